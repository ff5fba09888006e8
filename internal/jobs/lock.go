package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-membership/internal/logger"
)

const lockKeyPrefix = "job_lock:"

// RunLock prevents two jobs from working the same tables at once.
// Concurrent runs are an operational mistake, not a supported mode, so
// the lock is a simple SetNX with a TTL safety valve.
type RunLock struct {
	Client *redis.Client
	Logger *logger.Logger
	TTL    time.Duration
}

func NewRunLock(client *redis.Client, log *logger.Logger) *RunLock {
	return &RunLock{
		Client: client,
		Logger: log,
		TTL:    2 * time.Hour,
	}
}

// Acquire takes the named lock. Returns false if another run holds it.
func (l *RunLock) Acquire(ctx context.Context, jobName, holder string) (bool, error) {
	key := lockKeyPrefix + jobName
	ok, err := l.Client.SetNX(ctx, key, holder, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		current, _ := l.Client.Get(ctx, key).Result()
		l.Logger.Warn("JOB", fmt.Sprintf("Lock %s already held by %s", key, current))
		return false, nil
	}
	l.Logger.LogJob(jobName, fmt.Sprintf("lock acquired by %s", holder))
	return true, nil
}

// Release frees the lock, but only if this holder still owns it.
func (l *RunLock) Release(ctx context.Context, jobName, holder string) error {
	key := lockKeyPrefix + jobName
	current, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect lock %s: %w", key, err)
	}
	if current != holder {
		l.Logger.Warn("JOB", fmt.Sprintf("Lock %s held by %s, not releasing for %s", key, current, holder))
		return nil
	}
	if err := l.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// PublishSummary caches the latest run summary for the status API.
func (l *RunLock) PublishSummary(ctx context.Context, jobName string, payload []byte) error {
	key := "job_summary:" + jobName
	return l.Client.Set(ctx, key, payload, 7*24*time.Hour).Err()
}

// LatestSummary fetches the cached run summary, if any.
func (l *RunLock) LatestSummary(ctx context.Context, jobName string) ([]byte, error) {
	key := "job_summary:" + jobName
	data, err := l.Client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}
