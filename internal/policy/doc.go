// Package policy 决定请求的处理方式：交给宿主应用、走 API 策略还是静态资源策略，
// 以及静态路径适用哪条新鲜度规则。
package policy
