package auth

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidIdentity    = errors.New("invalid identity")
	errInvalidSignature   = errors.New("invalid signature")
)

type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg SecConfig
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 50
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 100
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

// Allow reports whether one more request from key fits the budget.
func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}
