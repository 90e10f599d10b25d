// Package provision creates or reuses user identities and lead records,
// exactly once per (identity, resource) pair.
package provision

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/onwardai/keith-agent/internal/catalog"
	"github.com/onwardai/keith-agent/internal/identity"

	"go.uber.org/zap"
)

// Result statuses. StatusExists is a normal outcome, not an error: the lead is
// already on file and nothing was created.
const (
	StatusSuccess = "success"
	StatusExists  = "exists"
	StatusError   = "error"
)

const provenanceTag = "(Source: Keith Agent)"

// AccountRequest is the transient input for one provisioning attempt. It is
// never persisted as its own entity.
type AccountRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Program string `json:"program_name"`
	Summary string `json:"summary"`
}

// Result reports the outcome of a provisioning attempt. Message is always
// suitable for relaying to the human.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// OutcomeCounter records settled provisioning outcomes by status.
type OutcomeCounter interface {
	ProvisionSettled(status string)
}

type nopOutcomeCounter struct{}

func (nopOutcomeCounter) ProvisionSettled(string) {}

// Provisioner resolves identities and records leads against catalog resources.
type Provisioner struct {
	catalog       catalog.Port
	identities    identity.Service
	logger        *zap.Logger
	metrics       OutcomeCounter
	magicLinkBase string
}

// New creates a provisioner. magicLinkBase is the public URL prefix for the
// account access reference included in new-account success messages.
func New(port catalog.Port, identities identity.Service, magicLinkBase string, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		catalog:       port,
		identities:    identities,
		logger:        logger,
		metrics:       nopOutcomeCounter{},
		magicLinkBase: strings.TrimRight(magicLinkBase, "/"),
	}
}

// WithMetrics attaches an outcome counter. Nil resets to a no-op.
func (p *Provisioner) WithMetrics(m OutcomeCounter) *Provisioner {
	if m == nil {
		m = nopOutcomeCounter{}
	}
	p.metrics = m
	return p
}

// Provision runs the full account and lead flow. Every failure degrades to a
// StatusError result with a human-readable message; the method never returns
// an error because the conversation must always receive some reply.
func (p *Provisioner) Provision(ctx context.Context, req AccountRequest, authenticated bool) *Result {
	result := p.provision(ctx, req, authenticated)
	p.metrics.ProvisionSettled(result.Status)
	return result
}

func (p *Provisioner) provision(ctx context.Context, req AccountRequest, authenticated bool) *Result {
	email, ok := NormalizeEmail(req.Email)
	if !ok {
		return &Result{
			Status:  StatusError,
			Message: fmt.Sprintf("The email %q doesn't look right. Please ask the user to spell it out again.", req.Email),
		}
	}

	user, tempPassword, result := p.resolveIdentity(ctx, req, email, authenticated)
	if result != nil {
		return result
	}

	resource, result := p.resolveResource(ctx, req.Program)
	if result != nil {
		return result
	}

	return p.recordLead(ctx, req, user, resource, tempPassword)
}

// resolveIdentity returns the identity to attach the lead to, plus the fresh
// temporary password when the identity was just created. A non-nil Result
// means resolution failed.
func (p *Provisioner) resolveIdentity(ctx context.Context, req AccountRequest, email string, authenticated bool) (*identity.Identity, string, *Result) {
	if authenticated {
		// A session that claims prior authentication never creates implicitly.
		user, err := p.identities.FindByEmail(ctx, email)
		if err != nil {
			p.logger.Error("identity lookup failed", zap.String("email", email), zap.Error(err))
			return nil, "", &Result{
				Status:  StatusError,
				Message: "I couldn't verify the account right now. Please try again or log in on the website.",
			}
		}
		if user == nil {
			return nil, "", &Result{
				Status:  StatusError,
				Message: fmt.Sprintf("I couldn't find an account for %s. Please log in manually on the website.", email),
			}
		}
		return user, "", nil
	}

	tempPassword, err := tempCredential()
	if err != nil {
		p.logger.Error("temp credential generation failed", zap.Error(err))
		return nil, "", &Result{
			Status:  StatusError,
			Message: "Something went wrong creating the account. Please try again in a moment.",
		}
	}

	metadata := map[string]any{
		"full_name": req.Name,
		"phone":     req.Phone,
		"programs":  []string{req.Program},
	}

	user, err := p.identities.Create(ctx, email, metadata, tempPassword)
	if err == nil {
		p.logger.Info("identity created", zap.String("user_id", user.ID))
		return user, tempPassword, nil
	}

	if errors.Is(err, identity.ErrAlreadyExists) {
		// Idempotent create-or-get: reuse the existing identity transparently.
		user, lookupErr := p.identities.FindByEmail(ctx, email)
		if lookupErr == nil && user != nil {
			p.logger.Info("reusing existing identity", zap.String("user_id", user.ID))
			return user, "", nil
		}
		err = lookupErr
	}

	p.logger.Error("identity resolution failed", zap.String("email", email), zap.Error(err))
	return nil, "", &Result{
		Status:  StatusError,
		Message: fmt.Sprintf("I couldn't set up an account for %s. Please apply on our website instead.", req.Program),
	}
}

// resolveResource matches the program name to a catalog resource: full-text
// on the description capped to one hit, substring fallback when full-text is
// unsupported or empty.
func (p *Provisioner) resolveResource(ctx context.Context, program string) (*catalog.Resource, *Result) {
	resources, err := p.catalog.SearchByText(ctx, catalog.FieldDescription, program, 1)
	if err != nil || len(resources) == 0 {
		if err != nil {
			p.logger.Warn("full-text resource lookup failed, falling back", zap.String("program", program), zap.Error(err))
		}
		resources, err = p.catalog.SearchBySubstring(ctx, catalog.FieldDescription, program, 1)
		if err != nil {
			p.logger.Error("resource lookup failed", zap.String("program", program), zap.Error(err))
			return nil, &Result{
				Status:  StatusError,
				Message: fmt.Sprintf("I hit a system issue looking up %q. Please try again shortly.", program),
			}
		}
	}

	if len(resources) == 0 {
		return nil, &Result{
			Status:  StatusError,
			Message: fmt.Sprintf("I couldn't match the program %q to an organization in our catalog.", program),
		}
	}

	return resources[0], nil
}

func (p *Provisioner) recordLead(ctx context.Context, req AccountRequest, user *identity.Identity, resource *catalog.Resource, tempPassword string) *Result {
	existing, err := p.catalog.FindLeads(ctx, user.ID, resource.ID, catalog.ActiveLeadStatuses)
	if err != nil {
		p.logger.Error("duplicate lead check failed", zap.Error(err))
		return &Result{
			Status:  StatusError,
			Message: fmt.Sprintf("System issue submitting the application for %s. Please try again.", resource.Name),
			UserID:  user.ID,
		}
	}
	if len(existing) > 0 {
		return &Result{
			Status:  StatusExists,
			Message: fmt.Sprintf("There is already an active application for %s on file.", resource.Name),
			UserID:  user.ID,
		}
	}

	lead := &catalog.Lead{
		UserID:     user.ID,
		ResourceID: resource.ID,
		Status:     catalog.LeadStatusSubmitted,
		Notes:      fmt.Sprintf("%s\n%s", req.Summary, provenanceTag),
	}

	if _, err := p.catalog.InsertLead(ctx, lead); err != nil {
		// Two sessions can pass the check above at the same time; the unique
		// constraint settles the race and the loser reports exists.
		if errors.Is(err, catalog.ErrDuplicateLead) {
			return &Result{
				Status:  StatusExists,
				Message: fmt.Sprintf("There is already an active application for %s on file.", resource.Name),
				UserID:  user.ID,
			}
		}
		p.logger.Error("lead insert failed", zap.Error(err))
		return &Result{
			Status:  StatusError,
			Message: fmt.Sprintf("System issue submitting the application for %s. Please try again.", resource.Name),
			UserID:  user.ID,
		}
	}

	p.logger.Info("lead submitted",
		zap.String("user_id", user.ID),
		zap.String("resource_id", resource.ID),
		zap.String("resource_name", resource.Name),
	)

	message := fmt.Sprintf("Application submitted for %s.", resource.Name)
	if tempPassword != "" {
		message = fmt.Sprintf(
			"Application submitted for %s. Account access: %s/magic/%s, temporary password: %s. Share these with the user exactly once.",
			resource.Name, p.magicLinkBase, user.ID, tempPassword,
		)
	}

	return &Result{Status: StatusSuccess, Message: message, UserID: user.ID}
}

// tempCredential returns a 6-digit numeric temporary password.
func tempCredential() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
