package fetch

import "fmt"

// NetworkError 表示传输层失败（连接、超时、读取中断），与 HTTP 错误状态码区分。
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
