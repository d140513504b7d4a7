package domain

import "context"

// MessageSink accepts one serialized DeltaRecord per event.
type MessageSink interface {
	Send(ctx context.Context, key string, payload []byte) error
	Name() string
	Close() error
}

// QueueMessage is a single message received from a queue.
type QueueMessage struct {
	ID      string
	Key     string
	Payload []byte
}

// MessageSource reads messages previously written by a MessageSink.
type MessageSource interface {
	// Receive blocks until at least one message is available, the source's
	// poll window elapses (returning an empty slice), or ctx is done.
	Receive(ctx context.Context) ([]QueueMessage, error)
	Ack(ctx context.Context, msgs []QueueMessage) error
	Close() error
}

// DeletionNotifier asks the blob owner to delete a processed blob.
type DeletionNotifier interface {
	RequestDeletion(ctx context.Context, blobName string) error
}
