package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/sentinel/internal/metrics"
)

// subscriptionBuffer is the per-subscription channel depth. Messages beyond
// it are dropped so a slow consumer never stalls the NATS client.
const subscriptionBuffer = 64

// NATSOptions configures a NATSBus. Credentials come from configuration;
// there are no defaults.
type NATSOptions struct {
	URL           string
	Name          string
	User          string
	Password      string
	Token         string
	ReconnectWait time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// NATSBus publishes and subscribes over a single NATS connection with
// automatic reconnection.
type NATSBus struct {
	conn    *nats.Conn
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewNATSBus connects to NATS. Extra nats.Option values are appended after
// the defaults.
func NewNATSBus(o NATSOptions, extra ...nats.Option) (*NATSBus, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wait := o.ReconnectWait
	if wait <= 0 {
		wait = time.Second
	}
	b := &NATSBus{logger: logger, metrics: o.Metrics}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.ReconnectJitter(100*time.Millisecond, time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.metrics.SetBusConnected(false)
			b.metrics.IncBusDisconnect()
			logger.Warn("bus disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.metrics.SetBusConnected(true)
			logger.Info("bus reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.metrics.SetBusConnected(false)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("bus async error", "subject", subject, "err", err)
		}),
	}
	if o.Name != "" {
		opts = append(opts, nats.Name(o.Name))
	}
	if o.User != "" {
		opts = append(opts, nats.UserInfo(o.User, o.Password))
	}
	if o.Token != "" {
		opts = append(opts, nats.Token(o.Token))
	}

	nc, err := nats.Connect(o.URL, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", o.URL, err)
	}
	b.conn = nc
	b.metrics.SetBusConnected(true)
	return b, nil
}

// Publish sends event on topic. While the connection is down the message is
// refused with ErrBusDisconnected instead of being buffered for replay.
func (b *NATSBus) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(event)
	if err != nil {
		return err
	}
	if !b.conn.IsConnected() {
		b.metrics.IncPublishFailure()
		return ErrBusDisconnected
	}

	msg := nats.NewMsg(topic)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	if err := b.conn.PublishMsg(msg); err != nil {
		b.metrics.IncPublishFailure()
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func encode(event any) ([]byte, error) {
	switch v := event.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	return data, nil
}

// Subscribe returns a channel that receives raw event payloads for the given
// topic (supports NATS wildcards like "commands.>"). Call the returned cancel
// function to unsubscribe and close the channel.
func (b *NATSBus) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, subscriptionBuffer)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- msg.Data:
		default:
			b.metrics.IncBusDropped()
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			for {
				select {
				case <-ch:
				default:
					close(ch)
					return
				}
			}
		})
	}

	return ch, cancel, nil
}

// Connected reports whether the underlying connection is up.
func (b *NATSBus) Connected() bool {
	return b.conn.IsConnected()
}

// Flush waits until the server has processed everything published so far.
func (b *NATSBus) Flush() error {
	return b.conn.Flush()
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
