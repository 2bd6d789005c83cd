package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// StatusError reports a retryable upstream status that persisted after the
// last attempt.
type StatusError struct {
	Dependency string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d %s", e.Dependency, e.StatusCode, http.StatusText(e.StatusCode))
}

// Client wraps an http.Client with per-attempt timeouts, retries with
// exponential backoff and a circuit breaker. Transport errors, 5xx and 429
// responses are retried; any other response is handed back to the caller.
// A nil Breaker disables circuit breaking.
type Client struct {
	HTTP        *http.Client
	Breaker     *Breaker
	Attempts    int
	BaseBackoff time.Duration
	Jitter      float64
	Timeout     time.Duration
}

// Do executes req. The body is buffered so it can be replayed across attempts.
// The returned response body must be closed by the caller.
func (c Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.HTTP == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := c.Breaker
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if breaker != nil && !breaker.Allow(ctx) {
			observeAttempt(breaker, "rejected")
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrOpenCircuit, lastErr)
			}
			return nil, ErrOpenCircuit
		}

		resp, err := c.once(ctx, req, body)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			lastErr = &StatusError{Dependency: breaker.label(), StatusCode: resp.StatusCode}
		default:
			if breaker != nil {
				breaker.Report(ctx, true)
			}
			observeAttempt(breaker, "ok")
			return resp, nil
		}

		if breaker != nil {
			breaker.Report(ctx, false)
		}
		observeAttempt(breaker, "failed")
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(Backoff(c.BaseBackoff, attempt, c.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (c Client) once(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if c.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	attemptReq := req.Clone(callCtx)
	if body != nil {
		attemptReq.Body = io.NopCloser(bytes.NewReader(body))
		attemptReq.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		attemptReq.ContentLength = int64(len(body))
	}
	resp, err := c.HTTP.Do(attemptReq)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose keeps the attempt context alive until the caller is done
// reading the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	return data, nil
}

func observeAttempt(b *Breaker, outcome string) {
	if OutboundAttempts != nil {
		OutboundAttempts.WithLabelValues(b.label(), outcome).Inc()
	}
}

// Backoff returns an exponential backoff duration for the provided attempt.
// Jitter is expressed as a fraction (e.g. 0.2 == 20%).
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if jitterPct <= 0 {
		return d
	}
	jitter := float64(d) * jitterPct
	delta := (rand.Float64()*2 - 1) * jitter
	return d + time.Duration(delta)
}
