package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/badespider/videoeditor-sub000/log"
)

const (
	jobKeyPrefix = "job:"

	QueueDefault  = "pipeline_queue"
	QueuePriority = "pipeline_queue_priority"

	webhookTokenKeyPrefix  = "memories:webhook_token:"
	webhookStatusKeyPrefix = "memories:status:"
	webhookChannelPrefix   = "memories:webhook:"
	updatesChannelPrefix   = "job_updates:"

	WebhookTokenTTL  = 6 * time.Hour
	WebhookStatusTTL = time.Hour

	// bounded CAS retries on concurrent-write conflicts
	maxAtomicAttempts = 10
)

func JobKey(id string) string            { return jobKeyPrefix + id }
func WebhookTokenKey(id string) string   { return webhookTokenKeyPrefix + id }
func WebhookStatusKey(id string) string  { return webhookStatusKeyPrefix + id }
func WebhookChannel(id string) string    { return webhookChannelPrefix + id }
func JobUpdatesChannel(id string) string { return updatesChannelPrefix + id }

// Store is the state-store contract the job manager and the wait protocol
// run on: key/value with TTL, two FIFO queues, pub/sub, and an atomic
// read-transform-write primitive for job records.
type Store interface {
	AtomicUpdateJob(ctx context.Context, jobID string, transform func(*Job) bool) (bool, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	PutJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
	ListJobKeys(ctx context.Context, limit int64) ([]string, error)

	QueuePush(ctx context.Context, queue, jobID string) error
	QueuePop(ctx context.Context, queue string) (string, bool, error)
	QueueLen(ctx context.Context, queue string) (int64, error)

	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func(), error)
}

// sentinel results inside the CAS closure; all of them map to "no update
// happened" without burning a retry attempt.
var (
	errJobMissing  = errors.New("job record missing")
	errJobTerminal = errors.New("job in terminal state")
	errNoChange    = errors.New("transform was a no-op")
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// AtomicUpdateJob runs WATCH / GET / transform / MULTI{SET,PUBLISH} / EXEC
// and retries on write conflicts up to maxAtomicAttempts. The terminal-state
// guardrail lives here so that a late failure can never clobber a completed
// job (or vice versa). Returns true only when a changed record was written.
func (s *RedisStore) AtomicUpdateJob(ctx context.Context, jobID string, transform func(*Job) bool) (bool, error) {
	key := JobKey(jobID)
	channel := JobUpdatesChannel(jobID)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return errJobMissing
		}
		if err != nil {
			return err
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return fmt.Errorf("corrupt job record %s: %w", key, err)
		}
		if job.Status.Terminal() {
			return errJobTerminal
		}
		if !transform(&job) {
			return errNoChange
		}
		job.UpdatedAt = now()

		updated, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(UpdatePayload{
			JobID:       job.ID,
			Status:      job.Status,
			Progress:    job.Progress,
			CurrentStep: job.CurrentStep,
		})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.Publish(ctx, channel, payload)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxAtomicAttempts; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errJobMissing), errors.Is(err, errJobTerminal), errors.Is(err, errNoChange):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return false, err
		}
	}
	log.Log(jobID, "atomic job update exhausted retries", "attempts", maxAtomicAttempts)
	return false, nil
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := s.client.Get(ctx, JobKey(jobID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("corrupt job record %s: %w", JobKey(jobID), err)
	}
	return &job, nil
}

func (s *RedisStore) PutJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, JobKey(job.ID), data, 0).Err()
}

func (s *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, JobKey(jobID)).Err()
}

func (s *RedisStore) ListJobKeys(ctx context.Context, limit int64) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), jobKeyPrefix))
		if limit > 0 && int64(len(keys)) >= limit {
			break
		}
	}
	return keys, iter.Err()
}

func (s *RedisStore) QueuePush(ctx context.Context, queue, jobID string) error {
	return s.client.LPush(ctx, queue, jobID).Err()
}

func (s *RedisStore) QueuePop(ctx context.Context, queue string) (string, bool, error) {
	val, err := s.client.RPop(ctx, queue).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) QueueLen(ctx context.Context, queue string) (int64, error) {
	return s.client.LLen(ctx, queue).Result()
}

func (s *RedisStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe returns a message channel plus a cancel func that tears the
// subscription down. Callers must invoke cancel when done waiting.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	sub := s.client.Subscribe(ctx, channel)
	// force the subscription onto the wire before the caller starts racing it
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	out := make(chan string, 8)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- msg.Payload
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
