package topic

import (
	"fmt"
	"strings"
)

// Constants defining the standard topic segments.
// These act as the protocol contract between the hub and device agents.
// Changing these values will break compatibility with deployed devices.
const (
	// SuffixCommands is the downstream command topic (Hub -> Device).
	// Structure: {root}/{deviceID}/commands
	SuffixCommands = "commands"

	// SuffixCommandResult is the upstream command result topic (Device -> Hub).
	// Structure: {root}/{deviceID}/command_result
	SuffixCommandResult = "command_result"
)

// Builder encapsulates the logic for constructing MQTT topic strings.
// It keeps topic layout decisions in one place instead of scattering
// fmt.Sprintf calls across the codebase.
type Builder struct {
	// root is the base namespace for all device topics (e.g. "devices").
	root string
}

// NewBuilder creates a new Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Commands returns the topic for pushing commands to a specific device.
// Direction: Hub -> Device
func (b *Builder) Commands(deviceID string) string {
	return b.build(deviceID, SuffixCommands)
}

// CommandResult returns the topic a device publishes results on.
// Direction: Device -> Hub
func (b *Builder) CommandResult(deviceID string) string {
	return b.build(deviceID, SuffixCommandResult)
}

// CommandResultWildcard returns the wildcard filter the hub subscribes to in
// order to receive results from every device.
// Result: {root}/+/command_result
func (b *Builder) CommandResultWildcard() string {
	return b.build(Wildcard, SuffixCommandResult)
}

// DeviceID extracts the device identifier from a concrete topic, or "" when
// the topic does not belong to this builder's namespace.
func (b *Builder) DeviceID(topic string) string {
	rest, ok := strings.CutPrefix(topic, b.root+"/")
	if !ok {
		return ""
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

// build is a private helper to construct the final topic string.
// Pattern: {root}/{deviceID}/{suffix}
func (b *Builder) build(deviceID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, deviceID, suffix)
}
