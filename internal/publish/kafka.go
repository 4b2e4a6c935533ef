package publish

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"

	"github.com/gregLibert/brizzi-terminal/pkg/transaction"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// producer is the part of *kgo.Client the publisher uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Kafka produces results to a topic.
type Kafka struct {
	client producer
	topic  string
	logger *zap.Logger
}

// NewKafka creates a producing client. The brokers are contacted lazily on first publish.
func NewKafka(conf KafkaConfig, metrics *kprom.Metrics, logger *zap.Logger) (*Kafka, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),
		kgo.DefaultProduceTopic(conf.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if metrics != nil {
		opts = append(opts, kgo.WithHooks(metrics))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{client: client, topic: conf.Topic, logger: logger}, nil
}

// Publish produces res synchronously.
func (k *Kafka) Publish(ctx context.Context, res *transaction.Result) error {
	rec, err := NewRecord(res)
	if err != nil {
		return err
	}

	if err := k.client.ProduceSync(ctx, &kgo.Record{Key: rec.Key, Value: rec.Value, Topic: k.topic}).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", res.ID, err)
	}

	k.logger.Debug("result published", zap.String("topic", k.topic), zap.Stringer("transaction_id", res.ID))
	return nil
}

func (k *Kafka) Close() {
	k.client.Close()
}
