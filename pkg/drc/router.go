package drc

import (
	"context"
	"encoding/json"
	"time"
)

// Inbound push methods. Messages are routed by method rather than topic:
// the same payload shapes appear on drc/up, events and status.
const (
	methodOSDPush        = "osd_info_push"
	methodHSIPush        = "hsi_info_push"
	methodBatteriesPush  = "drc_batteries_info_push"
	methodDroneStatePush = "drc_drone_state_push"
	methodUpdateTopo     = "update_topo"
	methodCameraOSDPush  = "drc_camera_osd_info_push"
	methodFlyToProgress  = "fly_to_point_progress"
)

// inbound is the loose shape shared by every subscribed topic. Pushes
// carry method and data; service replies additionally carry a tid.
type inbound struct {
	TID       string          `json:"tid"`
	BID       string          `json:"bid"`
	Timestamp int64           `json:"timestamp"`
	Method    string          `json:"method"`
	Info      *ReplyInfo      `json:"info"`
	Data      json.RawMessage `json:"data"`
}

// handleInbound is the single entry point for every subscribed topic. It
// runs on the client's dispatch goroutine, so pushes are applied in
// arrival order. Telemetry and progress pushes feed the cache; anything
// else carrying a transaction id resolves a waiting call; the rest is
// dropped with a debug log.
func (s *Session) handleInbound(ctx context.Context, topicName string, payload []byte) {
	var env inbound
	if err := json.Unmarshal(payload, &env); err != nil {
		s.log.Warn("Dropping malformed message", "topic", topicName, "error", err.Error())
		s.observeDrop("malformed")
		return
	}

	switch env.Method {
	case methodOSDPush:
		var info OSDInfo
		if !s.decodePush(env.Data, &info, env.Method) {
			return
		}
		s.cache.applyOSD(info, time.Now())

	case methodHSIPush:
		var info HSIInfo
		if !s.decodePush(env.Data, &info, env.Method) {
			return
		}
		s.cache.applyHSI(info)

	case methodBatteriesPush:
		var info BatteryInfo
		if !s.decodePush(env.Data, &info, env.Method) {
			return
		}
		s.cache.applyBattery(info)

	case methodDroneStatePush:
		var info DroneStateInfo
		if !s.decodePush(env.Data, &info, env.Method) {
			return
		}
		s.cache.applyDroneState(info)

	case methodUpdateTopo:
		var info TopoInfo
		if !s.decodePush(env.Data, &info, env.Method) {
			return
		}
		s.cache.applyTopo(&info)

	case methodCameraOSDPush:
		var info CameraOSDInfo
		if !s.decodePush(env.Data, &info, env.Method) {
			return
		}
		s.cache.applyCameraOSD(info)

	case methodFlyToProgress:
		var p FlyToProgress
		if !s.decodePush(env.Data, &p, env.Method) {
			return
		}
		s.cache.applyFlyToProgress(&p)

	default:
		if env.TID != "" {
			rep := &ServiceReply{
				TID:       env.TID,
				BID:       env.BID,
				Timestamp: env.Timestamp,
				Method:    env.Method,
				Info:      env.Info,
				Data:      env.Data,
			}
			if !s.corr.Resolve(rep) {
				s.log.Debug("Reply without waiter", "method", env.Method, "tid", env.TID)
				s.observeDrop("unmatched")
			}
			return
		}
		s.log.Debug("Ignoring message", "topic", topicName, "method", env.Method)
		s.observeDrop("unhandled")
		return
	}

	s.observePush(env.Method)
}

// decodePush decodes a push body into v. An absent body is legal and
// leaves v zero-valued, which resets the group the way an empty push
// from the gateway does.
func (s *Session) decodePush(data json.RawMessage, v any, method string) bool {
	if len(data) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn("Dropping malformed push", "method", method, "error", err.Error())
		s.observeDrop("malformed")
		return false
	}
	return true
}
