package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const resourceColumns = `id, name, category, secondary_categories, description, contact_info, programs, application_process`

const uniqueViolation = "23505"

// Store implements Port on top of PostgreSQL. The resources table keeps
// contact_info and programs as JSONB and secondary_categories as text[]. Lead
// uniqueness for active statuses is enforced by a partial unique index on
// (user_id, resource_id).
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore creates a catalog store backed by an open database handle.
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Open connects to PostgreSQL with sane pool defaults.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewStore(db, logger), nil
}

// Ping tests the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for collaborators that share the
// connection pool, such as the task queue.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func validField(field string) bool {
	return field == FieldDescription || field == FieldName
}

func (s *Store) SearchByText(ctx context.Context, field, query string, limit int) ([]*Resource, error) {
	if !validField(field) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidField, field)
	}

	q := fmt.Sprintf(`SELECT %s FROM resources
		WHERE to_tsvector('english', %s) @@ plainto_tsquery('english', $1)
		LIMIT $2`, resourceColumns, field)

	resources, err := s.queryResources(ctx, q, query, limit)
	if err != nil {
		// Surface a fallback-able condition: a missing text search config or
		// extension shows up as a syntax/undefined error here.
		return nil, fmt.Errorf("%w: %v", ErrTextSearchUnsupported, err)
	}
	return resources, nil
}

func (s *Store) SearchBySubstring(ctx context.Context, field, query string, limit int) ([]*Resource, error) {
	if !validField(field) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidField, field)
	}

	q := fmt.Sprintf(`SELECT %s FROM resources WHERE %s ILIKE $1 LIMIT $2`, resourceColumns, field)

	return s.queryResources(ctx, q, "%"+query+"%", limit)
}

func (s *Store) SearchByCategoryAny(ctx context.Context, categories []string, limit int) ([]*Resource, error) {
	q := fmt.Sprintf(`SELECT %s FROM resources WHERE category = ANY($1) LIMIT $2`, resourceColumns)

	return s.queryResources(ctx, q, pq.Array(categories), limit)
}

func (s *Store) SearchByOrFilter(ctx context.Context, category string, limit int) ([]*Resource, error) {
	q := fmt.Sprintf(`SELECT %s FROM resources
		WHERE category ILIKE $1 OR secondary_categories @> $2
		LIMIT $3`, resourceColumns)

	return s.queryResources(ctx, q, category, pq.Array([]string{category}), limit)
}

func (s *Store) GetByID(ctx context.Context, id string) (*Resource, error) {
	q := fmt.Sprintf(`SELECT %s FROM resources WHERE id = $1`, resourceColumns)

	row := s.db.QueryRowContext(ctx, q, id)
	resource, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return resource, err
}

func (s *Store) InsertLead(ctx context.Context, lead *Lead) (*Lead, error) {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, user_id, resource_id, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		lead.ID, lead.UserID, lead.ResourceID, lead.Status, lead.Notes, lead.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: user %s resource %s", ErrDuplicateLead, lead.UserID, lead.ResourceID)
		}
		return nil, fmt.Errorf("insert lead: %w", err)
	}

	s.logger.Debug("lead inserted",
		zap.String("lead_id", lead.ID),
		zap.String("user_id", lead.UserID),
		zap.String("resource_id", lead.ResourceID),
	)

	return lead, nil
}

func (s *Store) FindLeads(ctx context.Context, userID, resourceID string, statusIn []string) ([]*Lead, error) {
	q := `SELECT id, user_id, resource_id, status, notes, created_at FROM leads
		WHERE user_id = $1 AND resource_id = $2`
	args := []any{userID, resourceID}

	if len(statusIn) > 0 {
		q += ` AND status = ANY($3)`
		args = append(args, pq.Array(statusIn))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		lead := &Lead{}
		if err := rows.Scan(&lead.ID, &lead.UserID, &lead.ResourceID, &lead.Status, &lead.Notes, &lead.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, lead)
	}

	return leads, rows.Err()
}

func (s *Store) queryResources(ctx context.Context, query string, args ...any) ([]*Resource, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []*Resource
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, resource)
	}

	return resources, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*Resource, error) {
	r := &Resource{}
	var (
		secondary   pq.StringArray
		contactInfo []byte
		programs    []byte
	)

	err := row.Scan(&r.ID, &r.Name, &r.Category, &secondary, &r.Description, &contactInfo, &programs, &r.ApplicationProcess)
	if err != nil {
		return nil, err
	}

	r.SecondaryCategories = secondary

	if len(contactInfo) > 0 {
		if err := json.Unmarshal(contactInfo, &r.ContactInfo); err != nil {
			return nil, fmt.Errorf("decode contact_info for %s: %w", r.ID, err)
		}
	}
	if len(programs) > 0 {
		if err := json.Unmarshal(programs, &r.Programs); err != nil {
			return nil, fmt.Errorf("decode programs for %s: %w", r.ID, err)
		}
	}

	return r, nil
}
