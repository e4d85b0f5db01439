// Package deadletter stores events that permanently failed or exhausted
// their retry budget, and supports inspecting and reprocessing them.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/memograph-systems/crmsync/internal/models"
)

// ReprocessResult summarizes one reprocessing pass.
type ReprocessResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Store is the dead letter contract used by the worker pool and the admin
// endpoints.
type Store interface {
	Put(ctx context.Context, record models.DeadLetterRecord) error
	List(ctx context.Context, limit int) ([]models.DeadLetterRecord, error)
	Reprocess(ctx context.Context, limit int, reinject func(context.Context, models.QueueEntry) error) (ReprocessResult, error)
	Stats(ctx context.Context) map[string]interface{}
}

// JetStreamStore keeps dead letter records on a NATS JetStream stream, one
// subject per failure category. Safe for use across multiple pipeline
// instances.
type JetStreamStore struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	stream  jetstream.Stream
	written uint64
}

const subjectPrefix = "crmsync.dlq."

// NewJetStreamStore connects to NATS and ensures the dead letter stream
// exists.
func NewJetStreamStore(ctx context.Context, natsURL, streamName string) (*JetStreamStore, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("crmsync-deadletter"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create dead letter stream: %w", err)
	}

	return &JetStreamStore{conn: conn, js: js, stream: stream}, nil
}

// Put publishes the record under its failure category subject.
func (s *JetStreamStore) Put(ctx context.Context, record models.DeadLetterRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dead letter record: %w", err)
	}

	if _, err := s.js.Publish(ctx, subjectPrefix+subjectToken(record.Reason.Category), data); err != nil {
		return fmt.Errorf("publish dead letter record: %w", err)
	}

	atomic.AddUint64(&s.written, 1)
	return nil
}

// List returns up to limit records without consuming them.
func (s *JetStreamStore) List(ctx context.Context, limit int) ([]models.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	// Ephemeral AckNone consumer: a non-destructive read.
	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: subjectPrefix + ">",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dead letter records: %w", err)
	}

	var records []models.DeadLetterRecord
	for msg := range msgs.Messages() {
		var record models.DeadLetterRecord
		if err := json.Unmarshal(msg.Data(), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, msgs.Error()
}

// Reprocess consumes up to limit records and re-injects each as a fresh
// queue entry with the attempt count reset. A record whose re-injection
// fails is nak'd so it stays in the store instead of looping indefinitely.
func (s *JetStreamStore) Reprocess(ctx context.Context, limit int, reinject func(context.Context, models.QueueEntry) error) (ReprocessResult, error) {
	var result ReprocessResult
	if limit <= 0 {
		limit = 100
	}

	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          "crmsync-dlq-reprocess",
		Durable:       "crmsync-dlq-reprocess",
		FilterSubject: subjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return result, fmt.Errorf("create reprocess consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return result, fmt.Errorf("fetch dead letter records: %w", err)
	}

	now := time.Now().UTC()
	for msg := range msgs.Messages() {
		result.Attempted++

		var record models.DeadLetterRecord
		if err := json.Unmarshal(msg.Data(), &record); err != nil {
			// Unreadable records are terminated, they can never succeed.
			_ = msg.Ack()
			result.Failed++
			continue
		}

		entry := models.NewQueueEntry(record.Entry.Event, now)
		if err := reinject(ctx, entry); err != nil {
			_ = msg.Nak()
			result.Failed++
			continue
		}

		_ = msg.Ack()
		result.Succeeded++
	}

	return result, msgs.Error()
}

// Stats reports stream state for operational visibility.
func (s *JetStreamStore) Stats(ctx context.Context) map[string]interface{} {
	info, err := s.stream.Info(ctx)
	if err != nil {
		return map[string]interface{}{
			"backend":       "jetstream",
			"written_local": atomic.LoadUint64(&s.written),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"backend":        "jetstream",
		"written_local":  atomic.LoadUint64(&s.written),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
	}
}

// Close shuts down the NATS connection.
func (s *JetStreamStore) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// subjectToken makes a failure category safe for use as a subject token.
func subjectToken(category string) string {
	if category == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, category)
}
