package aiclient

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter applies an AIMD-style adaptive token-bucket limit in front
// of a Client: it estimates a request's token cost, blocks the caller
// until budget is available, and halves its tokens-per-minute budget on
// a provider rate-limit error, recovering gradually on success.
//
// Grounded on the goadesign-goa-ai model/middleware AdaptiveRateLimiter,
// reduced to a process-local limiter: the cluster-coordinated (Pulse
// replicated map) variant is dropped along with the other distributed-
// scheduling dependencies excluded by this engine's Non-goals (see
// DESIGN.md).
type RateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewRateLimiter builds a limiter with an initial and maximum
// tokens-per-minute budget.
func NewRateLimiter(initialTPM, maxTPM float64) *RateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &RateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a Client that enforces this limiter in front of next.
func (l *RateLimiter) Wrap(next Client) Client {
	return &limitedClient{next: next, limiter: l}
}

type limitedClient struct {
	next    Client
	limiter *RateLimiter
}

func (c *limitedClient) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return ChatResult{}, err
	}
	res, err := c.next.Chat(ctx, req)
	c.limiter.observe(err)
	return res, err
}

func (l *RateLimiter) wait(ctx context.Context, req ChatRequest) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *RateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *RateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *RateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *RateLimiter) setTPMLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// CurrentTPM reports the limiter's current effective tokens-per-minute
// budget (for observability/testing).
func (l *RateLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// estimateTokens is a cheap heuristic: characters across prompt parts,
// divided by an approximate chars-per-token ratio, plus a fixed overhead
// buffer.
func estimateTokens(req ChatRequest) int {
	chars := 0
	for _, p := range req.Parts {
		chars += len(p.Text)
	}
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
