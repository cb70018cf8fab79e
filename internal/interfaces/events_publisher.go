package interfaces

// EventPublisher delivers events to consumers outside the process.
type EventPublisher interface {
	Publish(topic string, event any) error
}
