package drc

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ServiceRequest is the QoS 1 envelope published on the services topic.
// The gateway echoes tid and bid back in its reply, which is how replies
// are correlated to waiting requests.
type ServiceRequest struct {
	TID       string `json:"tid"`
	BID       string `json:"bid"`
	Timestamp int64  `json:"timestamp"`
	Method    string `json:"method"`
	Data      any    `json:"data"`
}

// NewServiceRequest builds a request with a fresh transaction id. The bid
// mirrors the tid; the protocol carries both but this client does not use
// business ids for grouping.
func NewServiceRequest(method string, data any) *ServiceRequest {
	tid := uuid.NewString()
	if data == nil {
		data = map[string]any{}
	}
	return &ServiceRequest{
		TID:       tid,
		BID:       tid,
		Timestamp: time.Now().UnixMilli(),
		Method:    method,
		Data:      data,
	}
}

// ReplyInfo is the optional error envelope some replies carry alongside
// the body.
type ReplyInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServiceReply is a message received on the services_reply topic.
type ServiceReply struct {
	TID       string          `json:"tid"`
	BID       string          `json:"bid"`
	Timestamp int64           `json:"timestamp"`
	Method    string          `json:"method"`
	Info      *ReplyInfo      `json:"info,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// replyBody covers the failure encoding used inside reply bodies. The
// result field must be present to count; replies without one are success.
type replyBody struct {
	Result *int `json:"result"`
	Output struct {
		Msg    string `json:"msg"`
		Status string `json:"status"`
	} `json:"output"`
}

// Err interprets the reply outcome. The gateway reports failures two
// ways: an info envelope with a non-zero code, or a body whose result
// field is present and non-zero. A failing envelope takes precedence;
// an ok envelope does not mask a failing body.
func (r *ServiceReply) Err() error {
	if r.Info != nil && r.Info.Code != 0 {
		msg := r.Info.Message
		if msg == "" {
			msg = "unknown error"
		}
		return &ServiceError{Method: r.Method, Code: r.Info.Code, Message: msg}
	}

	if code, msg, ok := r.bodyResult(); ok && code != 0 {
		return &ServiceError{Method: r.Method, Code: code, Message: msg}
	}

	return nil
}

// signalsDisagree reports a reply whose envelope explicitly claims
// success while the body carries a failure. Err follows the body in
// that case; callers use this to log the conflict.
func (r *ServiceReply) signalsDisagree() bool {
	if r.Info == nil || r.Info.Code != 0 {
		return false
	}
	code, _, ok := r.bodyResult()
	return ok && code != 0
}

// bodyResult extracts the secondary failure encoding from the reply
// body. ok is false when the body is absent, not an object, or carries
// no result field.
func (r *ServiceReply) bodyResult() (code int, msg string, ok bool) {
	if len(r.Data) == 0 {
		return 0, "", false
	}

	var body replyBody
	if err := json.Unmarshal(r.Data, &body); err != nil || body.Result == nil {
		return 0, "", false
	}

	msg = body.Output.Msg
	if msg == "" {
		msg = "unknown error"
	}
	return *body.Result, msg, true
}

// DRCFrame is the fire-and-forget envelope used on the drc/up and
// drc/down channels. Frames carry a sequence number instead of a
// transaction id and are never answered.
type DRCFrame struct {
	Seq    int64           `json:"seq"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewDRCFrame marshals data into a frame with the given sequence number.
func NewDRCFrame(seq int64, method string, data any) (*DRCFrame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &DRCFrame{Seq: seq, Method: method, Data: raw}, nil
}
