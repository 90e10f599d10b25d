package catalog

import (
	"encoding/json"
	"strings"
	"time"
)

// Searchable resource columns accepted by the Port search operations.
const (
	FieldDescription = "description"
	FieldName        = "name"
)

// Lead statuses. A lead in an active status blocks creation of a second lead
// for the same (user, resource) pair.
const (
	LeadStatusNew          = "new"
	LeadStatusSubmitted    = "submitted"
	LeadStatusAcknowledged = "acknowledged"
	LeadStatusAccepted     = "accepted"
	LeadStatusOnHold       = "on_hold"
	LeadStatusRejected     = "rejected"
	LeadStatusClosed       = "closed"
	LeadStatusWithdrawn    = "withdrawn"
)

// ActiveLeadStatuses lists the non-terminal statuses used by the duplicate guard.
var ActiveLeadStatuses = []string{
	LeadStatusNew,
	LeadStatusSubmitted,
	LeadStatusAcknowledged,
	LeadStatusAccepted,
	LeadStatusOnHold,
}

// Program is a named offering embedded inside a resource. It is not
// independently addressable.
type Program struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Resource is a single organization entry in the curated catalog. Entries are
// created by ingestion and read-only here. ID is stable and serves as the sole
// deduplication key across retrieval strategies.
type Resource struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Category            string            `json:"category"`
	SecondaryCategories []string          `json:"secondary_categories,omitempty"`
	Description         string            `json:"description"`
	ContactInfo         map[string]string `json:"contact_info,omitempty"`
	Programs            []Program         `json:"programs,omitempty"`
	ApplicationProcess  string            `json:"application_process,omitempty"`
}

// Lead records one person's application to one resource.
type Lead struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ResourceID string    `json:"resource_id"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Categories returns the primary category followed by the secondary ones.
func (r *Resource) Categories() []string {
	cats := make([]string, 0, 1+len(r.SecondaryCategories))
	if r.Category != "" {
		cats = append(cats, r.Category)
	} else {
		cats = append(cats, "Uncategorized")
	}
	return append(cats, r.SecondaryCategories...)
}

// ProgramsJSON serializes the program list for scoring and prompt context.
func (r *Resource) ProgramsJSON() string {
	if len(r.Programs) == 0 {
		return "[]"
	}
	data, err := json.Marshal(r.Programs)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// ContactText flattens the contact info into a single lowercase string for
// locality matching.
func (r *Resource) ContactText() string {
	if len(r.ContactInfo) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.ContactInfo)*2)
	for k, v := range r.ContactInfo {
		parts = append(parts, k, v)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// ServiceArea returns the service area from the contact info, if present.
func (r *Resource) ServiceArea() string {
	if area := strings.TrimSpace(r.ContactInfo["service_area"]); area != "" {
		return area
	}
	return "Unspecified"
}
