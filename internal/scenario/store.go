package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sebastianruiz9504/calculadora/internal/quote"
)

// ErrNotFound is returned when the scenario does not exist for the owner.
var ErrNotFound = errors.New("scenario not found")

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Record is a scenario row ready to be written.
type Record struct {
	ID                uuid.UUID
	Owner             string
	Name              string
	DealType          quote.DealType
	RequiresProration bool
	StartDate         *time.Time
	EndDate           *time.Time
	Lines             []quote.Line
	LastResult        *LastResult
}

// Store persists scenarios.
type Store interface {
	Upsert(ctx context.Context, rec Record) (Scenario, error)
	List(ctx context.Context, owner string, limit int) ([]Scenario, error)
	Get(ctx context.Context, owner string, id uuid.UUID) (Scenario, error)
	Delete(ctx context.Context, owner string, id uuid.UUID) error
}

// NewStore returns a Store backed by Postgres.
func NewStore(db DBTX) Store {
	return &pgStore{db: db}
}

type pgStore struct {
	db DBTX
}

const scenarioColumns = `id, name, deal_type, requires_proration, start_date, end_date, lines, last_result, created_at, updated_at`

// Upsert inserts or replaces a scenario. A row owned by someone else is left
// untouched and reported as ErrNotFound.
func (s *pgStore) Upsert(ctx context.Context, rec Record) (Scenario, error) {
	lines, err := json.Marshal(rec.Lines)
	if err != nil {
		return Scenario{}, fmt.Errorf("encode lines: %w", err)
	}
	var result []byte
	if rec.LastResult != nil {
		if result, err = json.Marshal(rec.LastResult); err != nil {
			return Scenario{}, fmt.Errorf("encode last result: %w", err)
		}
	}
	row := s.db.QueryRow(ctx, `INSERT INTO scenarios (id, owner_id, name, deal_type, requires_proration, start_date, end_date, lines, last_result)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    deal_type = EXCLUDED.deal_type,
    requires_proration = EXCLUDED.requires_proration,
    start_date = EXCLUDED.start_date,
    end_date = EXCLUDED.end_date,
    lines = EXCLUDED.lines,
    last_result = EXCLUDED.last_result,
    updated_at = now()
WHERE scenarios.owner_id = EXCLUDED.owner_id
RETURNING `+scenarioColumns,
		rec.ID, rec.Owner, rec.Name, int(rec.DealType), rec.RequiresProration, rec.StartDate, rec.EndDate, lines, result)
	return scanScenario(row)
}

func (s *pgStore) List(ctx context.Context, owner string, limit int) ([]Scenario, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE owner_id = $1 ORDER BY updated_at DESC LIMIT $2`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Scenario, 0)
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *pgStore) Get(ctx context.Context, owner string, id uuid.UUID) (Scenario, error) {
	row := s.db.QueryRow(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = $1 AND owner_id = $2`, id, owner)
	return scanScenario(row)
}

func (s *pgStore) Delete(ctx context.Context, owner string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scenarios WHERE id = $1 AND owner_id = $2`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanScenario(row pgx.Row) (Scenario, error) {
	var (
		sc       Scenario
		id       uuid.UUID
		dealType int
		lines    []byte
		result   []byte
	)
	err := row.Scan(&id, &sc.Name, &dealType, &sc.RequiresProration, &sc.StartDate, &sc.EndDate, &lines, &result, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Scenario{}, ErrNotFound
	}
	if err != nil {
		return Scenario{}, err
	}
	sc.ID = id.String()
	sc.DealType = quote.DealType(dealType)
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &sc.Lines); err != nil {
			return Scenario{}, fmt.Errorf("decode lines of %s: %w", sc.ID, err)
		}
	}
	if sc.Lines == nil {
		sc.Lines = []quote.Line{}
	}
	if len(result) > 0 {
		sc.LastResult = &LastResult{}
		if err := json.Unmarshal(result, sc.LastResult); err != nil {
			return Scenario{}, fmt.Errorf("decode last result of %s: %w", sc.ID, err)
		}
	}
	return sc, nil
}
