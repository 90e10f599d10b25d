// Package taskqueue processes queued single-turn requests from the admin
// playground. Each work item becomes one synthetic user turn against a fresh
// session; nothing persists across items.
package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/onwardai/keith-agent/internal/catalog"
	"github.com/onwardai/keith-agent/internal/session"
	"github.com/onwardai/keith-agent/internal/utils"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

const (
	defaultAgentName    = "Keith"
	defaultPollInterval = 2 * time.Second

	statusInProgress = "in-progress"
	statusCompleted  = "completed"
	statusFailed     = "failed"

	verifyOrgCommand = "verify org"
	verifyOrgLimit   = 5
)

// Payload is the decoded work item payload.
type Payload struct {
	Message string `mapstructure:"message"`
}

type task struct {
	ID      string
	Payload map[string]any
}

// SessionFactory builds a fresh session for one work item.
type SessionFactory func(id string) *session.Session

// TaskCounter records processed work items by outcome.
type TaskCounter interface {
	TaskProcessed(outcome string)
}

type nopTaskCounter struct{}

func (nopTaskCounter) TaskProcessed(string) {}

// Poller polls the agent_tasks table for pending work assigned to this agent.
type Poller struct {
	db         *sql.DB
	catalog    catalog.Port
	newSession SessionFactory
	logger     *zap.Logger
	metrics    TaskCounter
	agentName  string
	interval   time.Duration
}

// New creates a poller. A zero interval falls back to the default.
func New(db *sql.DB, port catalog.Port, factory SessionFactory, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		db:         db,
		catalog:    port,
		newSession: factory,
		logger:     logger,
		metrics:    nopTaskCounter{},
		agentName:  defaultAgentName,
		interval:   interval,
	}
}

// WithAgentName overrides the agent name used in the assignment filter.
func (p *Poller) WithAgentName(name string) *Poller {
	if name != "" {
		p.agentName = name
	}
	return p
}

// WithMetrics attaches a task counter. Nil resets to a no-op.
func (p *Poller) WithMetrics(m TaskCounter) *Poller {
	if m == nil {
		m = nopTaskCounter{}
	}
	p.metrics = m
	return p
}

// Run polls until the context is canceled. Poll failures are logged and the
// loop keeps going.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("task poller running", zap.Duration("interval", p.interval))

	for {
		if err := p.poll(ctx); err != nil {
			p.logger.Warn("polling failed", zap.Error(err))
		}

		if err := utils.WaitFor(ctx, p.interval); err != nil {
			return err
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, payload FROM agent_tasks
		WHERE assigned_agent = $1 AND status = 'pending'`,
		p.agentName,
	)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task
	for rows.Next() {
		var (
			t       task
			payload []byte
		)
		if err := rows.Scan(&t.ID, &payload); err != nil {
			return fmt.Errorf("scan task: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t.Payload); err != nil {
				p.logger.Warn("skipping task with malformed payload", zap.String("task_id", t.ID), zap.Error(err))
				continue
			}
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, t := range tasks {
		go p.process(ctx, t)
	}

	return nil
}

// process handles one work item end to end: claim, respond, report.
func (p *Poller) process(ctx context.Context, t task) {
	logger := p.logger.With(zap.String("task_id", t.ID))
	logger.Info("processing task")

	var payload Payload
	if err := mapstructure.Decode(t.Payload, &payload); err != nil {
		p.fail(ctx, t.ID, fmt.Sprintf("decode payload: %v", err), logger)
		return
	}

	message := strings.TrimSpace(payload.Message)
	if message == "" {
		p.fail(ctx, t.ID, "no message in payload", logger)
		return
	}

	if err := p.setStatus(ctx, t.ID, statusInProgress, nil); err != nil {
		logger.Warn("claiming task failed", zap.Error(err))
		return
	}

	response, err := p.respond(ctx, t.ID, message)
	if err != nil {
		p.fail(ctx, t.ID, err.Error(), logger)
		return
	}

	if err := p.setStatus(ctx, t.ID, statusCompleted, map[string]any{"response": response}); err != nil {
		logger.Error("completing task failed", zap.Error(err))
		return
	}

	p.metrics.TaskProcessed(statusCompleted)
	logger.Info("task completed")
}

func (p *Poller) respond(ctx context.Context, taskID, message string) (string, error) {
	// Playground admin command answered straight from the catalog.
	if strings.HasPrefix(strings.ToLower(message), verifyOrgCommand) {
		return p.verifyOrg(ctx, strings.TrimSpace(message[len(verifyOrgCommand):]))
	}

	sess := p.newSession("task-" + uuid.NewString())
	defer sess.Terminate()

	replies := sess.Respond(ctx, message)
	if len(replies) == 0 {
		return "", fmt.Errorf("session produced no reply for task %s", taskID)
	}

	return strings.Join(replies, "\n\n"), nil
}

// verifyOrg formats a catalog profile for the named organization, exact name
// match first, fuzzy substring second.
func (p *Poller) verifyOrg(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "Error: Please specify an organization name. Usage: verify org [Organization Name]", nil
	}

	resources, err := p.catalog.SearchBySubstring(ctx, catalog.FieldName, name, verifyOrgLimit)
	if err != nil {
		return "", fmt.Errorf("verify org %q: %w", name, err)
	}
	if len(resources) == 0 {
		return fmt.Sprintf("Organization not found: %q. Please check the spelling or add it to the catalog.", name), nil
	}

	// A partial name can shadow the exact one in the fuzzy result set.
	org := resources[0]
	for _, r := range resources {
		if strings.EqualFold(r.Name, name) {
			org = r
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Organization Verified\n\n")
	fmt.Fprintf(&b, "Name: %s\n", org.Name)
	fmt.Fprintf(&b, "Categories: %s\n", strings.Join(org.Categories(), ", "))
	fmt.Fprintf(&b, "Service Area: %s\n", org.ServiceArea())
	if website := org.ContactInfo["website"]; website != "" {
		fmt.Fprintf(&b, "Website: %s\n", website)
	}
	fmt.Fprintf(&b, "\nSummary:\n%s\n", org.Description)

	if len(org.Programs) > 0 {
		b.WriteString("\nPrograms:\n")
		for _, program := range org.Programs {
			fmt.Fprintf(&b, "- %s: %s\n", program.Name, program.Description)
		}
	}

	return b.String(), nil
}

func (p *Poller) fail(ctx context.Context, taskID, reason string, logger *zap.Logger) {
	logger.Error("task failed", zap.String("reason", reason))
	p.metrics.TaskProcessed(statusFailed)

	if err := p.setStatus(ctx, taskID, statusFailed, map[string]any{"error": reason}); err != nil {
		logger.Error("reporting task failure failed", zap.Error(err))
	}
}

func (p *Poller) setStatus(ctx context.Context, taskID, status string, result map[string]any) error {
	if result == nil {
		_, err := p.db.ExecContext(ctx,
			`UPDATE agent_tasks SET status = $1 WHERE id = $2`, status, taskID)
		return err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}

	_, err = p.db.ExecContext(ctx,
		`UPDATE agent_tasks SET status = $1, result = $2 WHERE id = $3`, status, encoded, taskID)
	return err
}
