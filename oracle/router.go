package oracle

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"builderbuddy-backend/core/marketplace"
)

// DefaultMaxAttempts bounds provider retries per request.
const DefaultMaxAttempts = 5

type job struct {
	id       string
	req      marketplace.ScoreRequest
	attempts int
}

// Router is the reputation oracle: it queues outbound score requests and
// answers them through the registry's fulfillment callback.
type Router struct {
	mu          sync.Mutex
	address     marketplace.Address
	provider    ScoreProvider
	queue       []*job
	maxAttempts int
	wake        chan struct{}
	observe     func(time.Duration, error)
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Address is the oracle identity used when calling OracleFulfill.
	Address     marketplace.Address
	Provider    ScoreProvider
	MaxAttempts int
	// Observe, when set, receives the duration and outcome of every fetch.
	Observe func(time.Duration, error)
}

// NewRouter builds a Router with an empty queue.
func NewRouter(opts RouterOptions) *Router {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return &Router{
		address:     opts.Address,
		provider:    opts.Provider,
		maxAttempts: attempts,
		wake:        make(chan struct{}, 1),
		observe:     opts.Observe,
	}
}

// Address is the oracle identity.
func (r *Router) Address() marketplace.Address { return r.address }

// SubmitScoreRequest queues req under a fresh request id and returns at once.
func (r *Router) SubmitScoreRequest(ctx context.Context, req marketplace.ScoreRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	r.Enqueue(id, req)
	return id, nil
}

// Enqueue queues a request under an existing id, e.g. registrations that
// were still pending when the service last stopped.
func (r *Router) Enqueue(id string, req marketplace.ScoreRequest) {
	r.mu.Lock()
	r.queue = append(r.queue, &job{id: id, req: req})
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending reports queued requests.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// FulfillPending drains the queue once and returns how many requests were
// fulfilled. Requests whose fetch fails stay queued until MaxAttempts.
func (r *Router) FulfillPending(ctx context.Context, f marketplace.Fulfiller) (int, error) {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()

	var retry []*job
	done := 0
	for i, j := range batch {
		if err := ctx.Err(); err != nil {
			retry = append(retry, batch[i:]...)
			r.requeue(retry)
			return done, err
		}
		start := time.Now()
		score, err := r.provider.FetchScore(ctx, j.req)
		if r.observe != nil {
			r.observe(time.Since(start), err)
		}
		if err != nil {
			j.attempts++
			if j.attempts >= r.maxAttempts {
				log.Printf("oracle: dropping request %s for %s after %d attempts: %v", j.id, j.req.UserID, j.attempts, err)
				if aerr := f.OracleAbandon(r.address, j.id); aerr != nil && !errors.Is(aerr, marketplace.ErrUnknownRequest) {
					log.Printf("oracle: abandon %s failed: %v", j.id, aerr)
				}
				continue
			}
			retry = append(retry, j)
			continue
		}
		if err := f.OracleFulfill(r.address, j.id, score); err != nil {
			if errors.Is(err, marketplace.ErrUnknownRequest) {
				log.Printf("oracle: request %s no longer pending", j.id)
			} else {
				log.Printf("oracle: fulfill %s failed: %v", j.id, err)
			}
			continue
		}
		done++
	}
	r.requeue(retry)
	return done, nil
}

func (r *Router) requeue(jobs []*job) {
	if len(jobs) == 0 {
		return
	}
	r.mu.Lock()
	r.queue = append(jobs, r.queue...)
	r.mu.Unlock()
}

// Start drains the queue whenever requests arrive and retries failures on
// every tick until ctx is done.
func (r *Router) Start(ctx context.Context, f marketplace.Fulfiller, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
			case <-t.C:
			}
			if _, err := r.FulfillPending(ctx, f); err != nil && ctx.Err() == nil {
				log.Printf("oracle: sync error: %v", err)
			}
		}
	}()
}
