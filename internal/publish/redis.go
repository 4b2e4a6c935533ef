package publish

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gregLibert/brizzi-terminal/pkg/transaction"
)

// Connect connects to redis and checks the connection.
func Connect(ctx context.Context, uri, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     uri,
		Password: password,
		DB:       0,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", uri, err)
	}
	return rdb, nil
}

// lister is the part of *redis.Client the queue uses.
type lister interface {
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	Close() error
}

// DeadLetterQueue parks results that could not be published in a redis list, oldest first.
type DeadLetterQueue struct {
	client   lister
	logger   *zap.Logger
	listName string
}

func NewDeadLetterQueue(client *redis.Client, listName string, logger *zap.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{client: client, logger: logger, listName: listName}
}

func (q *DeadLetterQueue) Publish(ctx context.Context, res *transaction.Result) error {
	rec, err := NewRecord(res)
	if err != nil {
		return err
	}

	n, err := q.client.RPush(ctx, q.listName, rec.Value).Result()
	if err != nil {
		return fmt.Errorf("push %s to %s: %w", res.ID, q.listName, err)
	}

	q.logger.Info("result queued", zap.String("list", q.listName), zap.Int64("length", n))
	return nil
}

func (q *DeadLetterQueue) Close() {
	_ = q.client.Close()
}
