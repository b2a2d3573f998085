package events

import "context"

// OfflinePublisher stands in for the bus when none is configured. Every
// publish fails with ErrBusDisconnected, so commands stay pending instead
// of being reported as sent.
type OfflinePublisher struct{}

func (OfflinePublisher) Publish(context.Context, string, any) error { return ErrBusDisconnected }

func (OfflinePublisher) Close() error { return nil }

func (OfflinePublisher) Connected() bool { return false }
