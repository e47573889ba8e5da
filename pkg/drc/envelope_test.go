package drc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewServiceRequest(t *testing.T) {
	req := NewServiceRequest("return_home", nil)

	if req.TID == "" {
		t.Fatal("tid must not be empty")
	}
	if req.BID != req.TID {
		t.Errorf("bid = %q, want the tid %q", req.BID, req.TID)
	}
	if req.Timestamp <= 0 {
		t.Errorf("timestamp = %d, want positive", req.Timestamp)
	}

	// A nil body must serialize as an empty object, not null.
	buf, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(buf, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(wire["data"]) != "{}" {
		t.Errorf("data = %s, want {}", wire["data"])
	}
}

func TestServiceRequestIDsAreUnique(t *testing.T) {
	a := NewServiceRequest("return_home", nil)
	b := NewServiceRequest("return_home", nil)
	if a.TID == b.TID {
		t.Errorf("two requests share tid %q", a.TID)
	}
}

func TestServiceReplyErr(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantErr  bool
		wantCode int
		wantMsg  string
	}{
		{
			name:    "no body",
			payload: `{"tid":"t1","method":"return_home"}`,
			wantErr: false,
		},
		{
			name:    "result zero",
			payload: `{"tid":"t1","method":"return_home","data":{"result":0}}`,
			wantErr: false,
		},
		{
			name:    "result absent counts as success",
			payload: `{"tid":"t1","method":"drc_mode_enter","data":{"osd_frequency":30}}`,
			wantErr: false,
		},
		{
			name:     "result non-zero",
			payload:  `{"tid":"t1","method":"return_home","data":{"result":319001,"output":{"msg":"not in the sky"}}}`,
			wantErr:  true,
			wantCode: 319001,
			wantMsg:  "not in the sky",
		},
		{
			name:     "result non-zero without message",
			payload:  `{"tid":"t1","method":"return_home","data":{"result":7}}`,
			wantErr:  true,
			wantCode: 7,
			wantMsg:  "unknown error",
		},
		{
			name:     "info code non-zero",
			payload:  `{"tid":"t1","method":"drc_mode_enter","info":{"code":514300,"message":"no control auth"}}`,
			wantErr:  true,
			wantCode: 514300,
			wantMsg:  "no control auth",
		},
		{
			name:     "info envelope wins over body",
			payload:  `{"tid":"t1","method":"x","info":{"code":1,"message":"envelope"},"data":{"result":2,"output":{"msg":"body"}}}`,
			wantErr:  true,
			wantCode: 1,
			wantMsg:  "envelope",
		},
		{
			name:    "info code zero is success",
			payload: `{"tid":"t1","method":"x","info":{"code":0,"message":"ok"},"data":{"result":0}}`,
			wantErr: false,
		},
		{
			name:    "non-object body is success",
			payload: `{"tid":"t1","method":"x","data":[1,2,3]}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rep ServiceReply
			if err := json.Unmarshal([]byte(tt.payload), &rep); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			err := rep.Err()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Err() = %v, want nil", err)
				}
				return
			}

			var svcErr *ServiceError
			if !errors.As(err, &svcErr) {
				t.Fatalf("Err() = %T, want *ServiceError", err)
			}
			if svcErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", svcErr.Code, tt.wantCode)
			}
			if svcErr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", svcErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestServiceReplySignalsDisagree(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{
			name:    "envelope ok body failed",
			payload: `{"tid":"t1","method":"x","info":{"code":0},"data":{"result":9,"output":{"msg":"body"}}}`,
			want:    true,
		},
		{
			name:    "both failed agree",
			payload: `{"tid":"t1","method":"x","info":{"code":1},"data":{"result":9}}`,
			want:    false,
		},
		{
			name:    "no envelope",
			payload: `{"tid":"t1","method":"x","data":{"result":9}}`,
			want:    false,
		},
		{
			name:    "both ok",
			payload: `{"tid":"t1","method":"x","info":{"code":0},"data":{"result":0}}`,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rep ServiceReply
			if err := json.Unmarshal([]byte(tt.payload), &rep); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := rep.signalsDisagree(); got != tt.want {
				t.Errorf("signalsDisagree() = %v, want %v", got, tt.want)
			}

			// The body failure must surface either way.
			if rep.Err() == nil {
				var body replyBody
				_ = json.Unmarshal(rep.Data, &body)
				if body.Result != nil && *body.Result != 0 {
					t.Error("Err() = nil for a failing body")
				}
			}
		})
	}
}

func TestNewDRCFrame(t *testing.T) {
	frame, err := NewDRCFrame(42, "stick_control", StickControl{Roll: 1024, Pitch: 1024, Throttle: 1024, Yaw: 1024})
	if err != nil {
		t.Fatalf("NewDRCFrame: %v", err)
	}
	if frame.Seq != 42 {
		t.Errorf("seq = %d, want 42", frame.Seq)
	}

	buf, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire struct {
		Seq    int64          `json:"seq"`
		Method string         `json:"method"`
		Data   map[string]int `json:"data"`
	}
	if err := json.Unmarshal(buf, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire.Method != "stick_control" {
		t.Errorf("method = %q, want stick_control", wire.Method)
	}
	if wire.Data["roll"] != 1024 {
		t.Errorf("roll = %d, want 1024", wire.Data["roll"])
	}
}
