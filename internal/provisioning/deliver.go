package provisioning

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sebastianruiz9504/calculadora/internal/lock"
	"github.com/sebastianruiz9504/calculadora/internal/obs"
	"github.com/sebastianruiz9504/calculadora/internal/resilience"
)

// HTTPDoer executes outbound requests with retries.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Deliverer posts queued requests to the provisioning flow endpoint.
type Deliverer struct {
	HTTP    HTTPDoer
	FlowURL string
	Store   AttachmentStore
	Locker  *lock.Locker
	LockTTL time.Duration
}

// ProcessTask implements asynq.Handler for TaskDeliver.
func (d Deliverer) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload DeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		obs.ObserveProvisioning("dropped")
		return fmt.Errorf("decode delivery payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := zerolog.Ctx(ctx).With().Str("request_id", payload.RequestID).Logger()

	deliver := func(ctx context.Context) error { return d.deliver(ctx, payload) }
	var err error
	if d.Locker != nil {
		err = d.Locker.WithLock(ctx, "provisioning:"+payload.RequestID, d.lockTTL(), deliver)
	} else {
		err = deliver(ctx)
	}
	if err != nil {
		obs.ObserveProvisioning("delivery_failed")
		logger.Warn().Err(err).Msg("provisioning delivery failed")
		return err
	}
	obs.ObserveProvisioning("delivered")
	logger.Info().Msg("provisioning request delivered")
	return nil
}

func (d Deliverer) deliver(ctx context.Context, payload DeliverPayload) error {
	if d.HTTP == nil || d.FlowURL == "" {
		return fmt.Errorf("provisioning flow not configured: %w", asynq.SkipRetry)
	}
	req := payload.Request
	if att := req.Attachment; att != nil && att.ObjectKey != "" && att.Base64 == "" {
		if d.Store == nil {
			return fmt.Errorf("attachment %s: store not configured: %w", att.ObjectKey, asynq.SkipRetry)
		}
		content, err := d.Store.Get(ctx, att.ObjectKey)
		if err != nil {
			return err
		}
		inline := *att
		inline.Base64 = base64.StdEncoding.EncodeToString(content)
		req.Attachment = &inline
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode flow request: %v: %w", err, asynq.SkipRetry)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.FlowURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build flow request: %v: %w", err, asynq.SkipRetry)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", payload.RequestID)

	resp, err := d.HTTP.Do(ctx, httpReq)
	if err != nil {
		return fmt.Errorf("post to provisioning flow: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &resilience.StatusError{Dependency: "provisioning-flow", StatusCode: resp.StatusCode}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return errors.Join(statusErr, asynq.SkipRetry)
	}
	return statusErr
}

func (d Deliverer) lockTTL() time.Duration {
	if d.LockTTL > 0 {
		return d.LockTTL
	}
	return 2 * time.Minute
}
