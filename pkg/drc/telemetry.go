package drc

import (
	"fmt"
	"sync"
	"time"
)

// Telemetry group structs mirror the wire payloads pushed by the gateway.
// Pointer fields distinguish "never reported" and "absent in the last
// push" from a legitimate zero value. A push replaces its whole group, so
// a field the gateway stopped sending reads as nil again.
//
// Updates never write through published pointers; snapshots share them
// and must treat them as read-only.

// OSDInfo is the primary flight telemetry group.
type OSDInfo struct {
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	Height          *float64 `json:"height,omitempty"`
	AttitudeHead    *float64 `json:"attitude_head,omitempty"`
	HorizontalSpeed *float64 `json:"horizontal_speed,omitempty"`
	SpeedX          *float64 `json:"speed_x,omitempty"`
	SpeedY          *float64 `json:"speed_y,omitempty"`
	SpeedZ          *float64 `json:"speed_z,omitempty"`
}

// HSIInfo carries the downward distance sensor group.
type HSIInfo struct {
	// DownDistance is the downward measured distance in centimeters.
	DownDistance *float64 `json:"down_distance,omitempty"`
	DownEnable   *bool    `json:"down_enable,omitempty"`
	DownWork     *bool    `json:"down_work,omitempty"`
}

// BatteryInfo carries the aggregate battery group.
type BatteryInfo struct {
	CapacityPercent *int `json:"capacity_percent,omitempty"`
}

// DroneLimit carries the flight limits nested inside the drone state push.
type DroneLimit struct {
	DistanceLimit int `json:"distance_limit"`
	HeightLimit   int `json:"height_limit"`
}

// DroneStateInfo carries the drone operating state group.
type DroneStateInfo struct {
	ModeCode         *int        `json:"mode_code,omitempty"`
	RTHAltitude      *int        `json:"rth_altitude,omitempty"`
	Limit            *DroneLimit `json:"limit,omitempty"`
	IsInFixedSpeed   *bool       `json:"is_in_fixed_speed,omitempty"`
	NightLightsState *int        `json:"night_lights_state,omitempty"`
}

// CameraOSDInfo carries the camera and gimbal group.
type CameraOSDInfo struct {
	PayloadIndex *string  `json:"payload_index,omitempty"`
	GimbalPitch  *float64 `json:"gimbal_pitch,omitempty"`
	GimbalRoll   *float64 `json:"gimbal_roll,omitempty"`
	GimbalYaw    *float64 `json:"gimbal_yaw,omitempty"`
}

// SubDevice describes one device attached to the gateway.
type SubDevice struct {
	SN           string `json:"sn"`
	Domain       string `json:"domain,omitempty"`
	Type         int    `json:"type,omitempty"`
	SubType      int    `json:"sub_type,omitempty"`
	Index        string `json:"index,omitempty"`
	ThingVersion string `json:"thing_version,omitempty"`
}

// TopoInfo is the device topology reported by the gateway. The first sub
// device is the aircraft itself.
type TopoInfo struct {
	Domain       string      `json:"domain,omitempty"`
	Type         int         `json:"type,omitempty"`
	SubType      int         `json:"sub_type,omitempty"`
	ThingVersion string      `json:"thing_version,omitempty"`
	SubDevices   []SubDevice `json:"sub_devices,omitempty"`
}

// Point is a geographic position used by fly-to commands and progress.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Height    float64 `json:"height"`
}

// Fly-to task statuses reported in progress pushes.
const (
	FlyToStatusProgress = "wayline_progress"
	FlyToStatusOK       = "wayline_ok"
	FlyToStatusFailed   = "wayline_failed"
	FlyToStatusCancel   = "wayline_cancel"
)

// FlyToProgress is the latest progress report for a fly-to task.
type FlyToProgress struct {
	FlyToID           string  `json:"fly_to_id"`
	Status            string  `json:"status"`
	Result            int     `json:"result"`
	WayPointIndex     int     `json:"way_point_index"`
	RemainingDistance float64 `json:"remaining_distance"`
	RemainingTime     float64 `json:"remaining_time"`
	PlannedPathPoints []Point `json:"planned_path_points,omitempty"`
}

// Terminal reports whether the task has finished, successfully or not.
func (p *FlyToProgress) Terminal() bool {
	switch p.Status {
	case FlyToStatusOK, FlyToStatusFailed, FlyToStatusCancel:
		return true
	}
	return false
}

// flightModeNames maps the mode_code values reported in the drone state
// push to readable names.
var flightModeNames = map[int]string{
	0:  "Standby",
	1:  "Takeoff preparation",
	2:  "Takeoff preparation done",
	3:  "Manual flight",
	4:  "Automatic takeoff",
	5:  "Wayline flight",
	6:  "Panoramic shooting",
	7:  "Intelligent tracking",
	8:  "ADS-B avoidance",
	9:  "Auto returning home",
	10: "Auto landing",
	11: "Forced landing",
	12: "Three-blade landing",
	13: "Upgrading",
	14: "Not connected",
	15: "APAS",
	16: "Virtual stick",
	17: "Command flight",
}

// Telemetry is a point-in-time copy of everything the gateway has pushed.
type Telemetry struct {
	OSD        OSDInfo
	HSI        HSIInfo
	Battery    BatteryInfo
	DroneState DroneStateInfo
	CameraOSD  CameraOSDInfo
	Topo       *TopoInfo
	FlyTo      *FlyToProgress

	// TakeoffHeight is the height seen in the first OSD push that
	// carried one. It never changes afterwards.
	TakeoffHeight *float64

	// LastOSDAt is the arrival time of the most recent OSD push, zero
	// if none arrived yet.
	LastOSDAt time.Time
}

// TelemetryCache holds the latest telemetry pushed by the gateway and
// derives link liveness from it. All methods are safe for concurrent use.
type TelemetryCache struct {
	mu  sync.Mutex
	cur Telemetry

	osdWindow *FrequencyWindow

	cbMu  sync.Mutex
	onOSD []func(OSDInfo)
}

// osdWindowSpan is the sliding window used for the OSD rate estimate.
const osdWindowSpan = 2 * time.Second

// NewTelemetryCache creates an empty cache.
func NewTelemetryCache() *TelemetryCache {
	return &TelemetryCache{
		osdWindow: NewFrequencyWindow(osdWindowSpan),
	}
}

// OnOSD registers a callback invoked after every OSD push with the fresh
// group. Callbacks run on the dispatch goroutine; panics are swallowed so
// one bad callback cannot stall message processing.
func (c *TelemetryCache) OnOSD(fn func(OSDInfo)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onOSD = append(c.onOSD, fn)
}

func (c *TelemetryCache) applyOSD(info OSDInfo, now time.Time) {
	c.mu.Lock()
	c.cur.OSD = info
	if info.Height != nil && c.cur.TakeoffHeight == nil {
		c.cur.TakeoffHeight = info.Height
	}
	c.cur.LastOSDAt = now
	c.mu.Unlock()

	c.osdWindow.Record(now)

	c.cbMu.Lock()
	callbacks := make([]func(OSDInfo), len(c.onOSD))
	copy(callbacks, c.onOSD)
	c.cbMu.Unlock()

	for _, fn := range callbacks {
		invokeOSDCallback(fn, info)
	}
}

func invokeOSDCallback(fn func(OSDInfo), info OSDInfo) {
	defer func() {
		_ = recover()
	}()
	fn(info)
}

func (c *TelemetryCache) applyHSI(info HSIInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur.HSI = info
}

func (c *TelemetryCache) applyBattery(info BatteryInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur.Battery = info
}

func (c *TelemetryCache) applyDroneState(info DroneStateInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur.DroneState = info
}

func (c *TelemetryCache) applyCameraOSD(info CameraOSDInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur.CameraOSD = info
}

func (c *TelemetryCache) applyTopo(info *TopoInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur.Topo = info
}

func (c *TelemetryCache) applyFlyToProgress(p *FlyToProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur.FlyTo = p
}

// Snapshot returns a copy of the full telemetry state. Pointer fields are
// shared with the cache and must be treated as read-only.
func (c *TelemetryCache) Snapshot() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// OSD returns the latest primary telemetry group.
func (c *TelemetryCache) OSD() OSDInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.OSD
}

// HSI returns the latest distance sensor group.
func (c *TelemetryCache) HSI() HSIInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.HSI
}

// Battery returns the latest battery group.
func (c *TelemetryCache) Battery() BatteryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.Battery
}

// DroneState returns the latest drone operating state group.
func (c *TelemetryCache) DroneState() DroneStateInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.DroneState
}

// CameraOSD returns the latest camera and gimbal group.
func (c *TelemetryCache) CameraOSD() CameraOSDInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.CameraOSD
}

// Topo returns the latest device topology, nil if none was reported.
func (c *TelemetryCache) Topo() *TopoInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.Topo
}

// FlyTo returns the latest fly-to progress, nil if none was reported.
func (c *TelemetryCache) FlyTo() *FlyToProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.FlyTo
}

// TakeoffHeight returns the latched takeoff height.
func (c *TelemetryCache) TakeoffHeight() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.TakeoffHeight == nil {
		return 0, false
	}
	return *c.cur.TakeoffHeight, true
}

// RelativeHeight returns the current height above the takeoff point.
func (c *TelemetryCache) RelativeHeight() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.OSD.Height == nil || c.cur.TakeoffHeight == nil {
		return 0, false
	}
	return *c.cur.OSD.Height - *c.cur.TakeoffHeight, true
}

// LocalHeight returns the downward sensor distance in centimeters.
func (c *TelemetryCache) LocalHeight() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.HSI.DownDistance == nil {
		return 0, false
	}
	return *c.cur.HSI.DownDistance, true
}

// LocalHeightOK reports whether the downward sensor reading is usable:
// the sensor is enabled and working.
func (c *TelemetryCache) LocalHeightOK() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.HSI.DownEnable != nil && *c.cur.HSI.DownEnable &&
		c.cur.HSI.DownWork != nil && *c.cur.HSI.DownWork
}

// AircraftSN returns the aircraft serial number from the topology.
func (c *TelemetryCache) AircraftSN() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.Topo == nil || len(c.cur.Topo.SubDevices) == 0 {
		return "", false
	}
	return c.cur.Topo.SubDevices[0].SN, true
}

// FlightMode returns the latest flight mode code.
func (c *TelemetryCache) FlightMode() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.DroneState.ModeCode == nil {
		return 0, false
	}
	return *c.cur.DroneState.ModeCode, true
}

// FlightModeName returns a readable name for the latest flight mode.
func (c *TelemetryCache) FlightModeName() string {
	code, ok := c.FlightMode()
	if !ok {
		return "Unknown"
	}
	if name, ok := flightModeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown mode (%d)", code)
}

// OSDRate returns the current OSD push rate in Hz.
func (c *TelemetryCache) OSDRate() float64 {
	return c.osdWindow.Rate(time.Now())
}

// LastOSDTime returns when the last OSD push arrived.
func (c *TelemetryCache) LastOSDTime() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.LastOSDAt.IsZero() {
		return time.Time{}, false
	}
	return c.cur.LastOSDAt, true
}

// IsOnline reports whether an OSD push arrived within the timeout. A
// gateway that never pushed counts as offline.
func (c *TelemetryCache) IsOnline(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.LastOSDAt.IsZero() {
		return false
	}
	return time.Since(c.cur.LastOSDAt) < timeout
}
