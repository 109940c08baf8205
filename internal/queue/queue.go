// Package queue provides the at-least-once message substrate between the dispatcher and the workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/jonathan/knowledge-brain/internal/types"
)

// Topics
const (
	TopicDocumentAnalysis = "document.analysis"
	TopicBrainAssembly    = "brain.assembly"
)

// DefaultMaxDeliveries bounds how often one message is handed to a consumer before it is dead-lettered.
const DefaultMaxDeliveries = 10

// Message is one delivery of a published payload.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
	// Attempt is 1 on first delivery and grows with every redelivery.
	Attempt int
}

// Handler processes a message. Returning nil acknowledges it; an error leaves it pending for redelivery.
type Handler func(ctx context.Context, msg Message) error

// DeadLetterFunc is called when a message has used up its deliveries, before it moves to
// the dead-letter topic. An error keeps the message pending so the hook runs again later.
type DeadLetterFunc func(ctx context.Context, msg Message, cause error) error

// ConsumeOption configures a consumer.
type ConsumeOption func(*consumeOptions)

type consumeOptions struct {
	onDeadLetter DeadLetterFunc
}

// OnDeadLetter registers fn to settle messages that exceeded their deliveries.
func OnDeadLetter(fn DeadLetterFunc) ConsumeOption {
	return func(o *consumeOptions) { o.onDeadLetter = fn }
}

func buildOptions(opts []ConsumeOption) consumeOptions {
	var o consumeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Queue publishes payloads to topics and delivers them to consumers at least once.
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Consume blocks, delivering messages of topic to handler until ctx is cancelled.
	Consume(ctx context.Context, topic, consumer string, handler Handler, opts ...ConsumeOption) error
	Close() error
}

// DeadLetterTopic is where messages of topic go once their deliveries are exhausted.
func DeadLetterTopic(topic string) string {
	return topic + ".dead"
}

// RedeliveryDelay is how long a failed message waits before delivery number attempt.
// It doubles from 500ms up to one minute.
func RedeliveryDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     time.Minute,
	}
	b.Reset()
	var d time.Duration
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// DocumentMessage asks a worker to analyze one document of a DOCUMENT_ANALYSIS job.
type DocumentMessage struct {
	SubjectID    uuid.UUID          `json:"subject_id"`
	JobID        uuid.UUID          `json:"job_id"`
	DocumentID   uuid.UUID          `json:"document_id"`
	StorageKey   string             `json:"storage_key"`
	DocumentType types.DocumentType `json:"document_type"`
}

// AssemblyTask asks a worker to run the RAG_PROCESSING job of a subject.
type AssemblyTask struct {
	SubjectID uuid.UUID `json:"subject_id"`
	JobID     uuid.UUID `json:"job_id"`
	Reason    string    `json:"reason,omitempty"`
}

// Encode marshals a message body.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// DecodeDocument unmarshals a document.analysis payload.
func DecodeDocument(payload []byte) (DocumentMessage, error) {
	var msg DocumentMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, &MalformedError{Topic: TopicDocumentAnalysis, Cause: err}
	}
	if msg.JobID == uuid.Nil || msg.DocumentID == uuid.Nil {
		return msg, &MalformedError{Topic: TopicDocumentAnalysis, Cause: fmt.Errorf("job_id and document_id are required")}
	}
	return msg, nil
}

// DecodeAssembly unmarshals a brain.assembly payload.
func DecodeAssembly(payload []byte) (AssemblyTask, error) {
	var task AssemblyTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return task, &MalformedError{Topic: TopicBrainAssembly, Cause: err}
	}
	if task.JobID == uuid.Nil {
		return task, &MalformedError{Topic: TopicBrainAssembly, Cause: fmt.Errorf("job_id is required")}
	}
	return task, nil
}

// MalformedError represents a payload that can never be processed
type MalformedError struct {
	Topic string
	Cause error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s message: %v", e.Topic, e.Cause)
}

func (e *MalformedError) Unwrap() error {
	return e.Cause
}

// ExhaustedError is the cause handed to a DeadLetterFunc.
type ExhaustedError struct {
	Topic      string
	Deliveries int
	// Last is the error of the final delivery when the queue saw it.
	Last error
}

func (e *ExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s message gave up after %d deliveries: %v", e.Topic, e.Deliveries, e.Last)
	}
	return fmt.Sprintf("%s message gave up after %d deliveries", e.Topic, e.Deliveries)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
