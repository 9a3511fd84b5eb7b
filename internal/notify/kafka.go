package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

const DefaultKafkaTopic = "queue.changed"

var ErrPublishDropped = errors.New("publish dropped: producer busy")

// Kafka hands envelopes to an async producer keyed by date, so every change
// for one date lands on the same partition in order. Publish never waits on
// the broker; delivery errors surface on the producer's error channel and
// are only logged.
type Kafka struct {
	producer sarama.AsyncProducer
	topic    string
	now      func() time.Time
	logger   *slog.Logger
	wg       sync.WaitGroup
}

type KafkaOptions struct {
	Topic  string
	Now    func() time.Time
	Logger *slog.Logger
}

func NewKafka(producer sarama.AsyncProducer, options KafkaOptions) *Kafka {
	topic := options.Topic
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	k := &Kafka{producer: producer, topic: topic, now: now, logger: logger}
	k.wg.Add(1)
	go k.drainErrors()
	return k
}

func (k *Kafka) Publish(ctx context.Context, date string) error {
	payload, err := NewEnvelope(date, k.now()).Marshal()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(date),
		Value: sarama.ByteEncoder(payload),
	}
	select {
	case k.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrPublishDropped
	}
}

// Close flushes buffered messages and waits for the error drain to finish.
func (k *Kafka) Close() error {
	err := k.producer.Close()
	k.wg.Wait()
	return err
}

func (k *Kafka) drainErrors() {
	defer k.wg.Done()
	for perr := range k.producer.Errors() {
		date := ""
		if perr.Msg != nil && perr.Msg.Key != nil {
			if raw, err := perr.Msg.Key.Encode(); err == nil {
				date = string(raw)
			}
		}
		k.logger.Warn("kafka publish failed", "topic", k.topic, "date", date, "error", perr.Err)
	}
}

// NewKafkaProducer builds an async producer tuned for small, frequent
// signals: leader ack only, snappy compression, hash partitioning on key.
func NewKafkaProducer(brokers []string) (sarama.AsyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.Flush.Frequency = 100 * time.Millisecond
	return sarama.NewAsyncProducer(brokers, cfg)
}
