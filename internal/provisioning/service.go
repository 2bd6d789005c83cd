package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sebastianruiz9504/calculadora/internal/obs"
)

// Service accepts provisioning requests and queues them for delivery.
type Service struct {
	Store         AttachmentStore
	Queue         Enqueuer
	MaxAttachment int64
	Now           func() time.Time
	NewID         func() uuid.UUID
}

// Validate runs the submission gate without side effects.
func (s *Service) Validate(req Request) error {
	err := Validate(req, s.MaxAttachment)
	if err != nil {
		obs.ObserveProvisioning("rejected")
	}
	return err
}

// Submit validates req, offloads the attachment to storage when a store is
// configured, and enqueues the delivery. Without a store the attachment
// travels inline in the task.
func (s *Service) Submit(ctx context.Context, req Request) (Submission, error) {
	att, err := validate(req, s.MaxAttachment)
	if err != nil {
		obs.ObserveProvisioning("rejected")
		return Submission{}, err
	}

	id := s.newID()
	out := Submission{RequestID: id.String()}
	queued := req
	if s.Store != nil {
		key := ObjectKey(s.now(), id, att.Extension)
		if err := s.Store.Put(ctx, key, req.Attachment.ContentType, att.Content); err != nil {
			obs.ObserveProvisioning("failed")
			return Submission{}, fmt.Errorf("store attachment: %w", err)
		}
		stored := *req.Attachment
		stored.Base64 = ""
		stored.ObjectKey = key
		queued.Attachment = &stored
		out.ObjectKey = key
	}

	if s.Queue == nil {
		obs.ObserveProvisioning("failed")
		return Submission{}, errors.New("provisioning: queue not configured")
	}
	if err := s.Queue.EnqueueDelivery(ctx, DeliverPayload{RequestID: out.RequestID, Request: queued}); err != nil {
		obs.ObserveProvisioning("failed")
		return Submission{}, err
	}

	obs.ObserveProvisioning("accepted")
	zerolog.Ctx(ctx).Info().
		Str("request_id", out.RequestID).
		Str("object_key", out.ObjectKey).
		Int("lines", len(req.LineItems)).
		Msg("provisioning request queued")
	return out, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() uuid.UUID {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.New()
}
