package topic

import (
	"fmt"
)

// Constants defining the standard topic segments.
// These act as the "Protocol Contract" between the ground client and the
// gateway. Changing these values will break compatibility with deployed
// gateways.
const (
	// SuffixServices represents the downstream service request topic (Ground -> Gateway).
	// Structure: thing/product/{gatewaySN}/services
	SuffixServices = "services"

	// SuffixServicesReply represents the upstream service reply topic (Gateway -> Ground).
	// Structure: thing/product/{gatewaySN}/services_reply
	SuffixServicesReply = "services_reply"

	// SuffixDRCUp represents the upstream high-frequency channel carrying
	// telemetry pushes and command progress (Gateway -> Ground).
	// Structure: thing/product/{gatewaySN}/drc/up
	SuffixDRCUp = "drc/up"

	// SuffixDRCDown represents the downstream high-frequency channel for
	// fire-and-forget control such as stick input (Ground -> Gateway).
	// Structure: thing/product/{gatewaySN}/drc/down
	SuffixDRCDown = "drc/down"

	// SuffixEvents represents the upstream event notification topic (Gateway -> Ground).
	// Structure: thing/product/{gatewaySN}/events
	SuffixEvents = "events"

	// SuffixStatus represents the gateway presence topic (Gateway -> Ground).
	// Unlike the others it lives under the sys/ root.
	// Structure: sys/product/{gatewaySN}/status
	SuffixStatus = "status"
)

// Root namespaces fixed by the gateway protocol.
const (
	thingRoot = "thing/product"
	sysRoot   = "sys/product"
)

// TopicBuilder encapsulates the logic for constructing MQTT topic strings
// for a single gateway. It ensures consistency across the entire project.
type TopicBuilder struct {
	// gatewaySN is the serial number of the gateway this builder addresses.
	gatewaySN string
}

// NewTopicBuilder creates a new instance of TopicBuilder for the given gateway.
func NewTopicBuilder(gatewaySN string) *TopicBuilder {
	return &TopicBuilder{gatewaySN: gatewaySN}
}

// GatewaySN returns the serial number this builder addresses.
func (b *TopicBuilder) GatewaySN() string {
	return b.gatewaySN
}

// -----------------------------------------------------------------------------
// Topic Generation Methods
// -----------------------------------------------------------------------------

// Services returns the topic string for sending service requests.
// Direction: Ground -> Gateway, QoS 1.
func (b *TopicBuilder) Services() string {
	return b.thing(SuffixServices)
}

// ServicesReply returns the topic string carrying service replies.
// Direction: Gateway -> Ground, QoS 1.
func (b *TopicBuilder) ServicesReply() string {
	return b.thing(SuffixServicesReply)
}

// DRCUp returns the topic string carrying telemetry pushes and progress.
// Direction: Gateway -> Ground, QoS 0.
func (b *TopicBuilder) DRCUp() string {
	return b.thing(SuffixDRCUp)
}

// DRCDown returns the topic string for fire-and-forget control frames.
// Direction: Ground -> Gateway, QoS 0.
func (b *TopicBuilder) DRCDown() string {
	return b.thing(SuffixDRCDown)
}

// Events returns the topic string carrying gateway event notifications.
// Direction: Gateway -> Ground, QoS 0.
func (b *TopicBuilder) Events() string {
	return b.thing(SuffixEvents)
}

// Status returns the gateway presence topic.
// Direction: Gateway -> Ground, QoS 0.
func (b *TopicBuilder) Status() string {
	return b.sys(SuffixStatus)
}

// -----------------------------------------------------------------------------
// Helper Methods
// -----------------------------------------------------------------------------

// thing builds a topic under the thing/product root.
// Pattern: thing/product/{gatewaySN}/{suffix}
func (b *TopicBuilder) thing(suffix string) string {
	return fmt.Sprintf("%s/%s/%s", thingRoot, b.gatewaySN, suffix)
}

// sys builds a topic under the sys/product root.
// Pattern: sys/product/{gatewaySN}/{suffix}
func (b *TopicBuilder) sys(suffix string) string {
	return fmt.Sprintf("%s/%s/%s", sysRoot, b.gatewaySN, suffix)
}
