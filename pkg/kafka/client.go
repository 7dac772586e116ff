// Package kafka provides the reindex task queue.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/M4ORE/fda-ai-device-analyst/internal/config"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/database"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/log"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/tasks"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor is implemented by any component that can reindex one
// submission. It decouples the consumer from the concrete index builder.
type TaskProcessor interface {
	ProcessReindex(ctx context.Context, task tasks.ReindexTask) error
}

var producer *kafka.Writer

// InitProducer initializes the Kafka producer.
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka producer initialized successfully")
}

// ProduceReindexTask publishes a reindex task for one submission.
func ProduceReindexTask(task tasks.ReindexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(task.SubmissionNumber),
			Value: taskBytes,
		},
	)
}

// messageReader is the slice of *kafka.Reader the consumer loop needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer consumes reindex tasks and hands them to the processor. A
// Redis attempt counter caps redelivery at 3 so a poisoned record cannot
// block the topic forever.
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "fda-ai-device-analyst-indexer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka consumer started, listening on topic '%s'", cfg.Topic)

	consume(r, processor, 5*time.Second)

	if err := r.Close(); err != nil {
		log.Fatalf("failed to close Kafka consumer: %v", err)
	}
}

// consume runs the fetch loop. Fetch errors are transient as far as the loop
// is concerned: broker restarts and rebalances must not kill the consumer,
// so it sleeps and retries. Only a closed reader or a cancelled context
// stops it.
func consume(r messageReader, processor TaskProcessor, retryDelay time.Duration) {
	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				log.Info("Kafka consumer stopped")
				return
			}
			log.Errorf("failed to read message from Kafka, retrying in %s: %v", retryDelay, err)
			time.Sleep(retryDelay)
			continue
		}

		log.Infof("received Kafka message: offset %d", m.Offset)

		var task tasks.ReindexTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("failed to parse Kafka message: %v, value: %s", err, string(m.Value))
			// Malformed message: commit and move on rather than block the queue.
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("failed to commit malformed message: %v", err)
			}
			continue
		}

		log.Infof("processing reindex task: submission=%s, reason=%s", task.SubmissionNumber, task.Reason)
		if err := processor.ProcessReindex(context.Background(), task); err != nil {
			log.Errorf("reindex task failed: submission=%s, error: %v", task.SubmissionNumber, err)
			attemptsKey := fmt.Sprintf("reindex:attempts:%s", task.SubmissionNumber)
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr == nil {
				_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			}
			if incErr != nil {
				// Redis trouble: be conservative, leave the offset uncommitted
				// so Kafka redelivers.
				continue
			}
			if attempts >= 3 {
				log.Errorf("reindex task failed %d times, committing offset: submission=%s", attempts, task.SubmissionNumber)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("failed to commit Kafka offset: %v", err)
				}
			}
		} else {
			log.Infof("reindex task succeeded: submission=%s", task.SubmissionNumber)
			_ = database.RDB.Del(context.Background(), fmt.Sprintf("reindex:attempts:%s", task.SubmissionNumber)).Err()
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("failed to commit Kafka offset: %v", err)
			}
		}
	}
}
