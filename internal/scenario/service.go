package scenario

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sebastianruiz9504/calculadora/internal/common"
)

// Service applies ownership and naming rules on top of a Store.
type Service struct {
	Store Store
	NewID func() uuid.UUID
}

// NewService constructs a scenario service.
func NewService(store Store) *Service {
	return &Service{Store: store, NewID: uuid.New}
}

// Save creates the scenario when it has no id yet, otherwise replaces it.
func (s *Service) Save(ctx context.Context, owner string, req SaveRequest) (Scenario, error) {
	if owner == "" {
		return Scenario{}, unauthorized()
	}
	id, err := s.resolveID(req.ScenarioID)
	if err != nil {
		return Scenario{}, err
	}
	name := strings.TrimSpace(req.ScenarioName)
	if name == "" {
		name = DefaultName
	}
	sc, err := s.Store.Upsert(ctx, Record{
		ID:                id,
		Owner:             owner,
		Name:              name,
		DealType:          req.DealType,
		RequiresProration: req.RequiresProration,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		Lines:             req.Lines,
		LastResult:        req.LastResult,
	})
	return sc, mapErr(err)
}

// List returns the owner's scenarios, most recently updated first.
func (s *Service) List(ctx context.Context, owner string) ([]Scenario, error) {
	if owner == "" {
		return nil, unauthorized()
	}
	return s.Store.List(ctx, owner, 0)
}

// Get loads one of the owner's scenarios.
func (s *Service) Get(ctx context.Context, owner, id string) (Scenario, error) {
	if owner == "" {
		return Scenario{}, unauthorized()
	}
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return Scenario{}, notFound()
	}
	sc, err := s.Store.Get(ctx, owner, uid)
	return sc, mapErr(err)
}

// Delete removes one of the owner's scenarios.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if owner == "" {
		return unauthorized()
	}
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return notFound()
	}
	return mapErr(s.Store.Delete(ctx, owner, uid))
}

func (s *Service) resolveID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if s.NewID != nil {
			return s.NewID(), nil
		}
		return uuid.New(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.NewAppError("VALIDATION_ERROR", "scenarioId must be a UUID", http.StatusBadRequest, err)
	}
	return id, nil
}

func mapErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return notFound()
	}
	return err
}

func notFound() error {
	return common.NotFound("scenario not found")
}

func unauthorized() error {
	return common.NewAppError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized, nil)
}
