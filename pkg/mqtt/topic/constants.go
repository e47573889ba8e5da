package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// It matches exactly one topic level.
	// Example: "thing/product/+/services_reply" matches the reply topic
	// of every gateway.
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#".
	// It matches the current level and all subsequent levels.
	// It must be the last character in the topic filter.
	// Example: "thing/product/SN1/#" matches every channel of one gateway.
	MultiWildcard = "#"
)
