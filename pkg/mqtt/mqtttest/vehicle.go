package mqtttest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drclink-io/drclink/pkg/mqtt/topic"
)

// StickFrame is one stick_control frame the vehicle received.
type StickFrame struct {
	Seq      int64
	Roll     int
	Pitch    int
	Throttle int
	Yaw      int
}

type infoFailure struct {
	code int
	msg  string
}

type resultFailure struct {
	result int
	msg    string
}

// Vehicle simulates the gateway end of a control link. It answers service
// requests on the services topic pair, counts heartbeats and records
// stick frames from the DRC downlink, and pushes telemetry upstream.
// Replies default to success with result 0; individual methods can be
// scripted to fail or stay silent.
type Vehicle struct {
	sn     string
	client *Client
	topics *topic.TopicBuilder

	mu          sync.Mutex
	infoFails   map[string]infoFailure
	resultFails map[string]resultFailure
	muted       map[string]bool
	requests    map[string]int
	sticks      []StickFrame
	drcActive   bool
	autoOSD     time.Duration
	osdStop     chan struct{}

	heartbeats atomic.Int64
	pushSeq    atomic.Int64
}

// NewVehicle creates a vehicle for the given gateway serial number. It
// joins the broker on Start.
func NewVehicle(b *Broker, sn string) *Vehicle {
	return &Vehicle{
		sn:          sn,
		client:      b.Client(),
		topics:      topic.NewTopicBuilder(sn),
		infoFails:   make(map[string]infoFailure),
		resultFails: make(map[string]resultFailure),
		muted:       make(map[string]bool),
		requests:    make(map[string]int),
	}
}

// Start connects the vehicle and installs its subscriptions.
func (v *Vehicle) Start(ctx context.Context) error {
	if err := v.client.Start(ctx); err != nil {
		return err
	}
	if err := v.client.Subscribe(ctx, v.topics.Services(), 1, v.handleService); err != nil {
		return err
	}
	return v.client.Subscribe(ctx, v.topics.DRCDown(), 0, v.handleDRC)
}

// Stop halts telemetry pushes and leaves the broker.
func (v *Vehicle) Stop() {
	v.mu.Lock()
	v.haltOSD()
	v.mu.Unlock()
	v.client.Disconnect(context.Background())
}

// FailWithCode scripts an envelope failure for a method: the reply
// carries info.code and info.message.
func (v *Vehicle) FailWithCode(method string, code int, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.infoFails[method] = infoFailure{code: code, msg: msg}
}

// FailWithResult scripts a body failure for a method: the reply carries
// data.result and data.output.msg.
func (v *Vehicle) FailWithResult(method string, result int, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resultFails[method] = resultFailure{result: result, msg: msg}
}

// Mute makes the vehicle swallow requests for a method without replying.
func (v *Vehicle) Mute(method string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.muted[method] = true
}

// Restore clears any failure or mute script for a method.
func (v *Vehicle) Restore(method string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.infoFails, method)
	delete(v.resultFails, method)
	delete(v.muted, method)
}

// Requests returns how many requests for a method the vehicle has seen.
func (v *Vehicle) Requests(method string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests[method]
}

// DRCActive reports whether the vehicle considers itself in DRC mode.
func (v *Vehicle) DRCActive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.drcActive
}

// Heartbeats returns the number of heart_beat frames received.
func (v *Vehicle) Heartbeats() int64 {
	return v.heartbeats.Load()
}

// StickFrames returns the stick frames received so far, oldest first.
func (v *Vehicle) StickFrames() []StickFrame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]StickFrame(nil), v.sticks...)
}

// SetAutoOSD makes the vehicle push OSD telemetry at the given interval
// while DRC mode is active. Zero disables it.
func (v *Vehicle) SetAutoOSD(interval time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.autoOSD = interval
	if interval <= 0 {
		v.haltOSD()
		return
	}
	if v.drcActive {
		v.launchOSD()
	}
}

// StopOSD halts automatic OSD pushes, simulating a silent link while the
// vehicle still answers service requests.
func (v *Vehicle) StopOSD() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.autoOSD = 0
	v.haltOSD()
}

// PushOSD pushes one osd_info_push frame. A nil data uses a plausible
// hover payload.
func (v *Vehicle) PushOSD(data map[string]any) {
	if data == nil {
		data = map[string]any{
			"latitude":         22.542,
			"longitude":        113.953,
			"height":           112.5,
			"attitude_head":    90.0,
			"horizontal_speed": 0.0,
		}
	}
	v.PushTelemetry("osd_info_push", data)
}

// PushTelemetry pushes one frame on the DRC uplink.
func (v *Vehicle) PushTelemetry(method string, data any) {
	v.publish(v.topics.DRCUp(), 0, map[string]any{
		"seq":    v.pushSeq.Add(1),
		"method": method,
		"data":   data,
	})
}

// PushRaw publishes arbitrary bytes on the DRC uplink, bypassing frame
// construction. Used to exercise malformed-payload handling.
func (v *Vehicle) PushRaw(payload []byte) {
	_ = v.client.Publish(context.Background(), v.topics.DRCUp(), 0, false, payload)
}

// PushEvent publishes one message on the events topic.
func (v *Vehicle) PushEvent(method string, data any) {
	v.publish(v.topics.Events(), 0, map[string]any{
		"bid":       "",
		"timestamp": time.Now().UnixMilli(),
		"method":    method,
		"data":      data,
	})
}

// PushStatus publishes one message on the sys status topic.
func (v *Vehicle) PushStatus(method string, data any) {
	v.publish(v.topics.Status(), 0, map[string]any{
		"timestamp": time.Now().UnixMilli(),
		"method":    method,
		"data":      data,
	})
}

func (v *Vehicle) handleService(ctx context.Context, topicName string, payload []byte) {
	var req struct {
		TID    string          `json:"tid"`
		BID    string          `json:"bid"`
		Method string          `json:"method"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}

	v.mu.Lock()
	v.requests[req.Method]++
	muted := v.muted[req.Method]
	info, hasInfo := v.infoFails[req.Method]
	res, hasRes := v.resultFails[req.Method]

	accepted := !muted && !hasInfo && !hasRes
	if accepted {
		switch req.Method {
		case "drc_mode_enter":
			v.drcActive = true
			if v.autoOSD > 0 {
				v.launchOSD()
			}
		case "drc_mode_exit":
			v.drcActive = false
			v.haltOSD()
		}
	}
	v.mu.Unlock()

	if muted {
		return
	}

	reply := map[string]any{
		"tid":       req.TID,
		"bid":       req.BID,
		"timestamp": time.Now().UnixMilli(),
		"method":    req.Method,
	}
	switch {
	case hasInfo:
		reply["info"] = map[string]any{"code": info.code, "message": info.msg}
	case hasRes:
		reply["data"] = map[string]any{
			"result": res.result,
			"output": map[string]any{"msg": res.msg},
		}
	default:
		reply["data"] = map[string]any{"result": 0}
	}

	v.publish(v.topics.ServicesReply(), 1, reply)
}

func (v *Vehicle) handleDRC(ctx context.Context, topicName string, payload []byte) {
	var frame struct {
		Seq    int64           `json:"seq"`
		Method string          `json:"method"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil {
		return
	}

	switch frame.Method {
	case "heart_beat":
		v.heartbeats.Add(1)

	case "stick_control":
		var stick struct {
			Roll     int `json:"roll"`
			Pitch    int `json:"pitch"`
			Throttle int `json:"throttle"`
			Yaw      int `json:"yaw"`
		}
		if err := json.Unmarshal(frame.Data, &stick); err != nil {
			return
		}
		v.mu.Lock()
		v.sticks = append(v.sticks, StickFrame{
			Seq:      frame.Seq,
			Roll:     stick.Roll,
			Pitch:    stick.Pitch,
			Throttle: stick.Throttle,
			Yaw:      stick.Yaw,
		})
		v.mu.Unlock()
	}
}

// launchOSD starts the push loop. Callers must hold v.mu.
func (v *Vehicle) launchOSD() {
	if v.osdStop != nil {
		return
	}
	stop := make(chan struct{})
	v.osdStop = stop
	interval := v.autoOSD

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				v.PushOSD(nil)
			}
		}
	}()
}

// haltOSD stops the push loop. Callers must hold v.mu.
func (v *Vehicle) haltOSD() {
	if v.osdStop != nil {
		close(v.osdStop)
		v.osdStop = nil
	}
}

func (v *Vehicle) publish(topicName string, qos int, payload any) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = v.client.Publish(context.Background(), topicName, qos, false, buf)
}
