// Package rpc 让控制进程按名称调用桥接层中的操作，并通过回调通道返回关联的结果。
package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	xerrors "VizBridge/internal/errors"
)

// 错误码。
const (
	CodeUnknownMethod   xerrors.Code = "UNKNOWN_METHOD"
	CodeCallbackFailure xerrors.Code = "CALLBACK_FAILURE"
)

func init() {
	xerrors.Register(CodeUnknownMethod, xerrors.Attributes{Message: "method does not exist", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeCallbackFailure, xerrors.Attributes{Message: "rpc callback delivery failed", Severity: xerrors.SeverityWarning, Alert: true})
}

// Request 是控制进程发来的一次调用。
type Request struct {
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
	ID     string            `json:"id"`
}

// Validate 检查请求的基本字段。
func (r Request) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "request id is required")
	}
	if strings.TrimSpace(r.Method) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "method is required")
	}
	return nil
}

// Response 是一次调用的结果，Result 与 Error 只会出现一个。
type Response struct {
	ID     string
	Result any
	Error  string
}

// Failed 判断响应是否携带错误。
func (r Response) Failed() bool { return r.Error != "" }

// MarshalJSON 输出 {"result":...} 或 {"error":"..."}。
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
	return json.Marshal(struct {
		Result any `json:"result"`
	}{r.Result})
}

// State 是单个请求的处理阶段。
type State int

const (
	StateReceived State = iota
	StateDispatching
	StateCompleted
	StateFailed
	StateSent
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDispatching:
		return "dispatching"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateSent:
		return "sent"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
