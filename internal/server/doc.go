// Package server 承载 Fiber HTTP 服务：请求 ID 与 Host 查找中间件、
// 将公开域名映射到上游的站点注册表，以及共享的上游 http.Client。
// 缓存流量的处理器位于 proxy，/-/ 管理接口位于 routes。
package server
