// Package llm 定义模型调用抽象接口
//
// Client 是模型服务的适配层：执行循环只依赖该接口，
// 具体的线格式和鉴权由各实现（openai/ 等）封装。
// Client 是无状态的，所有状态通过参数传递。
package llm

import "context"

// Client 模型调用接口
type Client interface {
	// Complete 非流式调用，返回完整响应
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream 流式调用，片段按序写入返回的 channel，
	// 结束（或出错）时关闭 channel；错误通过最后一次 err() 获取
	Stream(ctx context.Context, req *Request) (*StreamReader, error)
}

// StreamReader 流式响应读取器
//
// Chunks 关闭后调用 Err 获取流的结束状态。
type StreamReader struct {
	Chunks <-chan *Chunk
	err    *error
}

// NewStreamReader 构造流读取器（由 Client 实现使用）
func NewStreamReader(chunks <-chan *Chunk, err *error) *StreamReader {
	return &StreamReader{Chunks: chunks, err: err}
}

// Err 返回流的结束错误，nil 表示正常结束
// 只应在 Chunks 关闭后调用
func (r *StreamReader) Err() error {
	if r.err == nil {
		return nil
	}
	return *r.err
}
