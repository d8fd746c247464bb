package state

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used by tests and by local runs
// without a Redis instance. Atomicity is a single mutex rather than CAS,
// which satisfies the same contract from the caller's point of view.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]Job
	kv     map[string]string
	queues map[string][]string
	subs   map[string][]chan string

	// every payload published, in order; introspected by tests
	Published []PublishedMessage
}

type PublishedMessage struct {
	Channel string
	Payload string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   map[string]Job{},
		kv:     map[string]string{},
		queues: map[string][]string{},
		subs:   map[string][]chan string{},
	}
}

func (s *MemoryStore) AtomicUpdateJob(ctx context.Context, jobID string, transform func(*Job) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	if job.Status.Terminal() {
		return false, nil
	}
	if !transform(&job) {
		return false, nil
	}
	job.UpdatedAt = now()
	s.jobs[jobID] = job

	payload := marshalUpdatePayload(&job)
	s.publishLocked(JobUpdatesChannel(jobID), payload)
	return true, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	copied := job
	return &copied, nil
}

func (s *MemoryStore) PutJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryStore) ListJobKeys(ctx context.Context, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		keys = append(keys, id)
		if limit > 0 && int64(len(keys)) >= limit {
			break
		}
	}
	return keys, nil
}

func (s *MemoryStore) QueuePush(ctx context.Context, queue, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queue] = append([]string{jobID}, s.queues[queue]...)
	return nil
}

func (s *MemoryStore) QueuePop(ctx context.Context, queue string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[queue]
	if len(q) == 0 {
		return "", false, nil
	}
	last := q[len(q)-1]
	s.queues[queue] = q[:len(q)-1]
	return last, true, nil
}

func (s *MemoryStore) QueueLen(ctx context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queues[queue])), nil
}

func (s *MemoryStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.kv[key]
	return val, ok, nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.kv, k)
		if strings.HasPrefix(k, jobKeyPrefix) {
			delete(s.jobs, strings.TrimPrefix(k, jobKeyPrefix))
		}
	}
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(channel, payload)
	return nil
}

func (s *MemoryStore) publishLocked(channel, payload string) {
	s.Published = append(s.Published, PublishedMessage{Channel: channel, Payload: payload})
	for _, ch := range s.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan string, 8)
	s.subs[channel] = append(s.subs[channel], ch)
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		chans := s.subs[channel]
		for i, c := range chans {
			if c == ch {
				s.subs[channel] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
	}
	return ch, cancel, nil
}
