package proof

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// circuitState names the breaker's state machine position.
type circuitState string

const (
	stateClosed   circuitState = "CLOSED"
	stateOpen     circuitState = "OPEN"
	stateHalfOpen circuitState = "HALF_OPEN"
)

// pool bounds concurrent access to one backend: a counting semaphore
// caps in-flight sessions, a token bucket throttles the request rate,
// and a circuit breaker trips open after repeated failures so a
// degrading backend stops being hammered.
type pool struct {
	name    string
	leases  chan struct{}
	limiter *rate.Limiter

	mu           sync.Mutex
	state        circuitState
	failureCount int
	failureLimit int
	lastFailure  time.Time
	resetTimeout time.Duration
}

func newPool(name string, size int, ratePerSecond float64, failureLimit int, resetTimeout time.Duration) *pool {
	if size <= 0 {
		size = 4
	}
	if ratePerSecond <= 0 {
		ratePerSecond = float64(size)
	}
	if failureLimit <= 0 {
		failureLimit = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 10 * time.Second
	}
	return &pool{
		name:         name,
		leases:       make(chan struct{}, size),
		limiter:      rate.NewLimiter(rate.Limit(ratePerSecond), size),
		state:        stateClosed,
		failureLimit: failureLimit,
		resetTimeout: resetTimeout,
	}
}

// acquire blocks until a lease is available, the rate limiter admits the
// call, and the circuit is not open — or ctx is done first, in which
// case it returns ErrBackendBusy.
func (p *pool) acquire(ctx context.Context) (release func(success bool), err error) {
	if !p.allow() {
		return nil, fmt.Errorf("%w: circuit open for backend %s", ErrBackendBusy, p.name)
	}

	select {
	case p.leases <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrBackendBusy, ctx.Err())
	}

	if err := p.limiter.Wait(ctx); err != nil {
		<-p.leases
		return nil, fmt.Errorf("%w: rate limited: %v", ErrBackendBusy, err)
	}

	released := false
	return func(success bool) {
		if released {
			return
		}
		released = true
		<-p.leases
		if success {
			p.success()
		} else {
			p.failure()
		}
	}, nil
}

func (p *pool) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateOpen {
		if time.Since(p.lastFailure) > p.resetTimeout {
			p.state = stateHalfOpen
			return true
		}
		return false
	}
	return true
}

func (p *pool) success() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateClosed
	p.failureCount = 0
}

func (p *pool) failure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failureCount++
	p.lastFailure = time.Now()
	if p.failureCount >= p.failureLimit {
		p.state = stateOpen
	}
}
