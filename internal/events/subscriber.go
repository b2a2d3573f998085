package events

// Subscriber delivers raw payloads published on a topic. Topics may use
// NATS wildcards such as "commands.>".
type Subscriber interface {
	// Subscribe returns a buffered channel of payloads and a cancel func
	// that unsubscribes and closes the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
}
