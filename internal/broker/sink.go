package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Queue names mirror the original's routing-key suffixes: "ppa" wins over
// "huge", an empty queue name is the common case.
const (
	QueuePPA   = "ppa"
	QueueHuge  = "huge"
	QueuePlain = ""
)

// Request is the wire payload a Sink publishes for one test request.
type Request struct {
	Source      string   `json:"-"`
	Queue       string   `json:"-"`
	Triggers    []string `json:"triggers"`
	PPAs        []string `json:"ppas,omitempty"`
	SubmitTime  string   `json:"submit-time"`
	submittedAt time.Time
}

// NewRequest builds a Request with its submit-time stamped in UTC, matching
// the "%Y-%m-%d %H:%M:%S%z" format the original broker publisher uses.
func NewRequest(source, queue string, triggers, ppas []string, now time.Time) Request {
	return Request{
		Source:      source,
		Queue:       queue,
		Triggers:    triggers,
		PPAs:        ppas,
		SubmitTime:  now.UTC().Format("2006-01-02 15:04:05-0700"),
		submittedAt: now,
	}
}

// Sink dispatches a test Request to wherever autopkgtest runners pick up
// new work.
type Sink interface {
	Publish(ctx context.Context, req Request) error
}

// KafkaSink stands in for the original's AMQP publisher: each request is
// published to topic "debci-<queue>-<series>-<arch>" ("debci-<series>-<arch>"
// when the queue is empty), keyed by source name, with a fresh submission
// ID header so request/response pairs can be correlated downstream.
type KafkaSink struct {
	Series string
	Arch   string
	Writer *kafka.Writer
	Logger *slog.Logger
}

// NewKafkaSink builds a sink writing to brokers at addr. The topic is fixed
// per (series, arch); a non-empty Queue on each Request adds the segment
// right after "debci-".
func NewKafkaSink(addr []string, series, arch string, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{
		Series: series,
		Arch:   arch,
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(addr...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		Logger: logger,
	}
}

// Publish implements Sink, writing a persistent-equivalent message (RequireAll
// acks) to the topic described on KafkaSink.
func (k *KafkaSink) Publish(ctx context.Context, req Request) error {
	topic := topicName(req.Queue, k.Series, k.Arch)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encode request for %s: %w", ErrPublish, req.Source, err)
	}

	submissionID := uuid.New().String()

	err = k.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(req.Source),
		Value: body,
		Headers: []kafka.Header{
			{Key: "submission-id", Value: []byte(submissionID)},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: publish %s to %s: %w", ErrPublish, req.Source, topic, err)
	}

	if k.Logger != nil {
		k.Logger.Info("published test request", "source", req.Source, "topic", topic, "submission_id", submissionID)
	}

	return nil
}

// Close releases the underlying kafka.Writer.
func (k *KafkaSink) Close() error {
	return k.Writer.Close()
}

func topicName(queue, series, arch string) string {
	if queue == "" {
		return fmt.Sprintf("debci-%s-%s", series, arch)
	}

	return fmt.Sprintf("debci-%s-%s-%s", queue, series, arch)
}

// FileSink appends one JSON-bearing line per request to Path, matching the
// file:// broker fallback: "<queue>:<src> <json>\n" with triggers serialized
// as a one-element list of space-joined entries.
type FileSink struct {
	Path string
}

type fileSinkBody struct {
	Triggers   []string `json:"triggers"`
	PPAs       []string `json:"ppas,omitempty"`
	SubmitTime string   `json:"submit-time"`
}

// Publish implements Sink.
func (f *FileSink) Publish(_ context.Context, req Request) error {
	body := fileSinkBody{
		Triggers:   []string{strings.Join(req.Triggers, " ")},
		PPAs:       req.PPAs,
		SubmitTime: req.SubmitTime,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request for %s: %w", ErrPublish, req.Source, err)
	}

	line := fmt.Sprintf("%s:%s %s\n", req.Queue, req.Source, encoded)

	file, err := os.OpenFile(f.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open sink file %s: %w", ErrPublish, f.Path, err)
	}
	defer file.Close()

	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("%w: write sink file %s: %w", ErrPublish, f.Path, err)
	}

	return nil
}

// ResolveQueue picks the routing queue per the original's precedence: a
// configured PPA always wins, then a huge request, else the plain queue.
func ResolveQueue(ppas []string, huge bool) string {
	if len(ppas) > 0 {
		return QueuePPA
	}

	if huge {
		return QueueHuge
	}

	return QueuePlain
}

// IsObjectStoreURL reports whether swiftURL names an HTTP(S) object store
// rather than the single-file backend.
func IsObjectStoreURL(swiftURL string) bool {
	return !strings.HasPrefix(swiftURL, "file://")
}
