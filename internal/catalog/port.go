package catalog

import (
	"context"
	"errors"
)

var (
	// ErrTextSearchUnsupported signals that the backing store cannot run a
	// full-text query. Callers fall back to a substring search.
	ErrTextSearchUnsupported = errors.New("full-text search unsupported")

	// ErrDuplicateLead is returned by InsertLead when an active lead already
	// exists for the same (user, resource) pair. The storage layer enforces
	// this with a uniqueness constraint, closing the check-then-act race.
	ErrDuplicateLead = errors.New("active lead already exists")

	// ErrInvalidField is returned when a search targets an unknown column.
	ErrInvalidField = errors.New("invalid search field")
)

// Port abstracts access to the resource catalog and its lead records. The
// storage schema and its migrations are owned elsewhere; everything above this
// interface treats the catalog as read-only except for lead inserts.
type Port interface {
	// SearchByText runs a full-text query against the given resource field.
	SearchByText(ctx context.Context, field, query string, limit int) ([]*Resource, error)

	// SearchBySubstring runs a case-insensitive contains match against the
	// given resource field.
	SearchBySubstring(ctx context.Context, field, query string, limit int) ([]*Resource, error)

	// SearchByCategoryAny returns resources whose primary category is one of
	// the provided categories.
	SearchByCategoryAny(ctx context.Context, categories []string, limit int) ([]*Resource, error)

	// SearchByOrFilter returns resources whose primary category matches or
	// whose secondary categories contain the given category.
	SearchByOrFilter(ctx context.Context, category string, limit int) ([]*Resource, error)

	// GetByID fetches a single resource. Returns nil when not found.
	GetByID(ctx context.Context, id string) (*Resource, error)

	// InsertLead persists a new lead. Returns ErrDuplicateLead when an active
	// lead for the same (user, resource) pair already exists.
	InsertLead(ctx context.Context, lead *Lead) (*Lead, error)

	// FindLeads lists leads for the (user, resource) pair, optionally
	// restricted to the given statuses.
	FindLeads(ctx context.Context, userID, resourceID string, statusIn []string) ([]*Lead, error)
}
