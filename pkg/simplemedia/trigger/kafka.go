package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher dispatches jobs to a Kafka topic. Messages are keyed by
// asset so runs for one asset land on one partition.
type KafkaPublisher struct {
	writer messageWriter
}

var _ simplemedia.Dispatcher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (p *KafkaPublisher) Dispatch(ctx context.Context, job simplemedia.Job) error {
	value, err := Encode(job)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.Ref.String()),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publish ingestion job: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads jobs from a consumer group and runs them. A message is
// committed once its run has finished, successfully or not.
type KafkaConsumer struct {
	reader   messageReader
	runner   *Runner
	logger   *slog.Logger
	errPause time.Duration
}

// NewKafkaConsumer creates a consumer in groupID.
func NewKafkaConsumer(brokers []string, topic, groupID string, runner *Runner, logger *slog.Logger) *KafkaConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		runner:   runner,
		logger:   logger,
		errPause: time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("fetch ingestion message", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.errPause):
			}
			continue
		}

		if !c.handle(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			c.logger.Error("commit ingestion message", "offset", msg.Offset, "err", err)
		}
	}
}

// handle runs one message. It returns false when the run was interrupted by
// shutdown and the message must be redelivered.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	logger := c.logger.With("partition", msg.Partition, "offset", msg.Offset)

	job, err := Decode(msg.Value)
	if err != nil {
		logger.Error("dropping malformed ingestion message", "err", err)
		return true
	}

	result := c.runner.Run(ctx, job)
	switch {
	case result.Success:
		logger.Info("ingestion job finished", "ref", job.Ref.String(), "skipped", result.Skipped)
	case result.Err.Kind == simplemedia.KindCanceled && ctx.Err() != nil:
		logger.Warn("ingestion job interrupted by shutdown", "ref", job.Ref.String())
		return false
	default:
		logger.Error("ingestion job failed", "ref", job.Ref.String(), "kind", result.Err.Kind, "err", result.Err)
	}
	return true
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
