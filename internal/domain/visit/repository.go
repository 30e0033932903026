package visit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DB is the subset of pgxpool.Pool the repository needs
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DefaultListLimit caps list queries without an explicit limit
const DefaultListLimit = 50

// Repository reads visits from PostgreSQL
type Repository struct {
	db     DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

const selectColumns = `
	SELECT v.id, v.status, p.display_name, t.name, pr.display_name,
	       v.visit_date, v.created_at, v.updated_at, v.responses
	FROM visits v
	LEFT JOIN patients p ON p.id = v.patient_id
	LEFT JOIN visit_templates t ON t.id = v.template_id
	LEFT JOIN providers pr ON pr.id = v.provider_id
`

// Get retrieves a visit by ID
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	query := selectColumns + `WHERE v.id = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get visit %s: %w", id, err)
	}
	return rec, nil
}

// List retrieves the most recently updated visits
func (r *Repository) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := selectColumns + `ORDER BY v.updated_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			r.logger.Error("failed to scan visit row",
				zap.Int("row", len(records)),
				zap.Error(err))
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var status, patientName, templateName, provider *string
	var visitDate, createdAt, updatedAt *time.Time
	var responses []byte

	err := row.Scan(
		&rec.ID, &status, &patientName, &templateName, &provider,
		&visitDate, &createdAt, &updatedAt, &responses,
	)
	if err != nil {
		return nil, err
	}

	if status != nil {
		rec.Status = Status(*status)
	}
	rec.PatientName = patientName
	rec.TemplateName = templateName
	rec.ProviderName = provider
	rec.Date = formatTime(visitDate)
	rec.CreatedAt = formatTime(createdAt)
	rec.UpdatedAt = formatTime(updatedAt)
	rec.Responses = decodeResponses(json.RawMessage(responses))
	if rec.Responses == nil {
		rec.Responses = []Response{}
	}
	return &rec, nil
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	return StringPtr(t.UTC().Format(time.RFC3339))
}
