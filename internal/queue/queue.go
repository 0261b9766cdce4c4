// Package queue defines the message queue collaborator used for the outbound
// "ready" and "error" notifications and the inbound "processed"
// acknowledgements. Semantics are peek-lock: a received message stays
// invisible until it is completed, dead-lettered, or its lock expires and the
// broker redelivers it.
package queue

import "context"

// Message is one outbound payload. ID is caller-chosen; senders that derive
// it deterministically from their content get natural deduplication.
type Message struct {
	ID   string
	Body []byte
}

// ReceivedMessage is a locked message handed to a consumer.
type ReceivedMessage struct {
	Message
	LockToken     string
	DeliveryCount int
}

// Queue is the peek-lock queue contract.
type Queue interface {
	Send(ctx context.Context, msg Message) error
	// Receive returns the next available message, or nil when the queue is
	// empty.
	Receive(ctx context.Context) (*ReceivedMessage, error)
	Complete(ctx context.Context, lockToken string) error
	DeadLetter(ctx context.Context, lockToken, reason, description string) error
}

// NopQueue discards sends and never delivers; it stands in when
// notifications are disabled.
type NopQueue struct{}

func (NopQueue) Send(ctx context.Context, msg Message) error { return nil }

func (NopQueue) Receive(ctx context.Context) (*ReceivedMessage, error) { return nil, nil }

func (NopQueue) Complete(ctx context.Context, lockToken string) error { return nil }

func (NopQueue) DeadLetter(ctx context.Context, lockToken, reason, description string) error {
	return nil
}
