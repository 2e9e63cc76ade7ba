package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	PrefetchQueue = "queue:image-prefetch"

	maxAttempts = 3
	lockTTL     = 2 * time.Minute
	popTimeout  = 30 * time.Second
	errorPause  = 2 * time.Second
)

// ImageLoader fetches a picture, filling the image cache as a side effect.
type ImageLoader interface {
	Load(ctx context.Context, url string) (string, error)
}

// Job is one prefetch request on the queue.
type Job struct {
	ID         uuid.UUID `json:"id"`
	URL        string    `json:"url"`
	RetryCount int       `json:"retry_count"`
}

// Pool warms the image cache from a Redis list so catalog pictures are ready
// before a chat turn needs them.
type Pool struct {
	redis       *redis.Client
	loader      ImageLoader
	workerCount int
	stopChan    chan struct{}
}

func NewPool(redisClient *redis.Client, loader ImageLoader, workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		loader:      loader,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	log.Printf("Started %d prefetch workers", p.workerCount)
}

func (p *Pool) Stop() {
	select {
	case <-p.stopChan:
		return
	default:
		close(p.stopChan)
	}
}

// Enqueue schedules url for prefetch.
func (p *Pool) Enqueue(ctx context.Context, url string) error {
	return p.push(ctx, Job{ID: uuid.New(), URL: url})
}

// EnqueueAll schedules every url, stopping at the first failure.
func (p *Pool) EnqueueAll(ctx context.Context, urls []string) error {
	for _, url := range urls {
		if err := p.Enqueue(ctx, url); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) push(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode prefetch job: %w", err)
	}
	if err := p.redis.RPush(ctx, PrefetchQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue prefetch job: %w", err)
	}
	return nil
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Prefetch worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, popTimeout, PrefetchQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Printf("Prefetch worker %d: queue unavailable: %v", id, err)
				p.pause(errorPause)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		job, err := parseJob(result[1])
		if err != nil {
			log.Printf("Prefetch worker %d: %v", id, err)
			continue
		}

		// Two workers must not download the same picture at once.
		lockKey := "prefetch_lock:" + job.URL
		locked, err := p.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil || !locked {
			continue
		}

		if err := p.process(ctx, job); err != nil {
			p.handleFailure(job, err)
		}

		p.redis.Del(ctx, lockKey)
	}
}

// pause sleeps for d or until the pool stops.
func (p *Pool) pause(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopChan:
	}
}

func (p *Pool) process(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := p.loader.Load(ctx, job.URL); err != nil {
		return err
	}
	log.Printf("Prefetched image %s", job.URL)
	return nil
}

func (p *Pool) handleFailure(job Job, err error) {
	job.RetryCount++
	if job.RetryCount >= maxAttempts {
		log.Printf("Prefetch of %s failed permanently: %v", job.URL, err)
		return
	}

	delay := backoff(job.RetryCount)
	log.Printf("Prefetch of %s failed (attempt %d): %v, retrying in %s", job.URL, job.RetryCount, err, delay)
	time.AfterFunc(delay, func() {
		if err := p.push(context.Background(), job); err != nil {
			log.Printf("Prefetch requeue of %s failed: %v", job.URL, err)
		}
	})
}

func parseJob(raw string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return job, fmt.Errorf("failed to parse job: %w", err)
	}
	if job.URL == "" {
		return job, fmt.Errorf("job %s has no url", job.ID)
	}
	return job, nil
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}
