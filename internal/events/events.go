// Package events adapts the asynchronous message bus shared by the control
// plane and the fleet.
package events

import (
	"context"
	"errors"
)

// Bus topics.
const (
	// TopicReports carries telemetry reports from agents.
	TopicReports = "reports"
	// TopicSecurityEvents carries out-of-band alerts raised by agents.
	TopicSecurityEvents = "security-events"
	// TopicCommandRequests carries command submissions from automation
	// attached to the bus. The control plane only consumes it when the
	// intake is enabled.
	TopicCommandRequests = "command-requests"
	// TopicBroadcast carries fleet-wide commands.
	TopicBroadcast = "broadcast"
	// TopicEmergency carries emergency commands and deadman directives.
	TopicEmergency = "emergency"

	topicCommandsPrefix = "commands."
	// TopicAllCommands matches every per-agent command subject.
	TopicAllCommands = topicCommandsPrefix + ">"
)

// CommandTopic returns the subject an agent listens on for its commands.
// Agent identities are restricted to subject-safe characters on ingest.
func CommandTopic(agentID string) string {
	return topicCommandsPrefix + agentID
}

// ErrBusDisconnected is returned by Publish while the bus connection is down.
// The message is not queued; the caller decides whether to retry or drop it.
var ErrBusDisconnected = errors.New("message bus disconnected")

// Publisher is the interface for emitting events.
type Publisher interface {
	// Publish JSON-encodes event (raw []byte is sent as is) and sends it
	// on topic. Delivery is fire-and-forget.
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Connectivity reports whether the bus is currently reachable.
type Connectivity interface {
	Connected() bool
}
