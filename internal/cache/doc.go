// Package cache 实现命名缓存分区：每个分区以请求的绝对 URL 为 key 保存完整响应。
// 分区在 Open 时按需创建，Keys 枚举、Delete 删除，lifecycle 激活阶段据此清理旧版本分区。
// 后端有两种：磁盘存储（单文件条目，临时文件 + rename，按条目加锁）与进程内存储。
// StrategyWriter 负责写入 cached-at 头，并在读取时判断新鲜度。
package cache
