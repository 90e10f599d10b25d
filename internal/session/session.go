// Package session drives one conversation: per-session turn history, model
// invocation, and dispatch of model-requested tool calls.
package session

import (
	"context"
	"encoding/json"
	"strings"

	_ "embed"

	"github.com/onwardai/keith-agent/internal/ai"
	"github.com/onwardai/keith-agent/internal/conversation"
	"github.com/onwardai/keith-agent/internal/provision"

	"go.uber.org/zap"
)

// State of the session turn loop. Terminated has no transitions out.
type State string

const (
	StateAwaitingUserInput State = "awaiting_user_input"
	StateModelInvoked      State = "model_invoked"
	StateRepliedText       State = "replied_text"
	StateRepliedToolCall   State = "replied_tool_call"
	StateTerminated        State = "terminated"
)

// Surfaced instead of propagating a model failure; the session stays open for
// a retry on the next turn.
const modelUnavailableReply = "I'm having trouble connecting to my brain right now, but I'm here to help."

// retrievalTriggers gate the catalog pipeline: only user turns containing one
// of these run a retrieval pass.
var retrievalTriggers = []string{"need", "find", "looking", "help", "search", "food", "housing", "legal"}

//go:embed prompt.md
var personaPrompt string

// ContextProvider produces the formatted catalog briefing for a query, or an
// empty string when nothing matched.
type ContextProvider interface {
	Context(ctx context.Context, query string) string
}

// Provisioner executes the create_account tool.
type Provisioner interface {
	Provision(ctx context.Context, req provision.AccountRequest, authenticated bool) *provision.Result
}

// Session holds the isolated state of one conversation. It is not safe for
// concurrent use; the orchestrator serializes turns per session.
type Session struct {
	id          string
	assistant   ai.Assistant
	retrieval   ContextProvider
	provisioner Provisioner
	logger      *zap.Logger

	turns         []*conversation.Turn
	state         State
	authenticated bool
	done          bool
}

// New creates a session with the persona prompt pre-populated as the first
// system turn.
func New(id string, assistant ai.Assistant, retrieval ContextProvider, provisioner Provisioner, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:          id,
		assistant:   assistant,
		retrieval:   retrieval,
		provisioner: provisioner,
		logger:      logger.With(zap.String("session_id", id)),
		turns:       []*conversation.Turn{conversation.System(personaPrompt)},
		state:       StateAwaitingUserInput,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state of the turn loop.
func (s *Session) State() State { return s.state }

// Done reports whether a provisioning attempt settled with a completed or
// duplicate outcome, signaling the orchestrator to tear the session down.
func (s *Session) Done() bool { return s.done }

// SetAuthenticated marks the session as belonging to a logged-in user. The
// flag is passed explicitly to the provisioner on every tool call.
func (s *Session) SetAuthenticated(authenticated bool) { s.authenticated = authenticated }

// Terminate moves the session to its absorbing state.
func (s *Session) Terminate() { s.state = StateTerminated }

// History returns a copy of the ordered turn list.
func (s *Session) History() []*conversation.Turn {
	out := make([]*conversation.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Respond processes one user utterance and returns the replies to deliver, in
// order. Model failures surface as a canned reply and leave the session open.
func (s *Session) Respond(ctx context.Context, text string) []string {
	if s.state == StateTerminated {
		return nil
	}

	s.turns = append(s.turns, conversation.User(text))
	s.injectContext(ctx, text)

	s.state = StateModelInvoked
	reply, err := s.assistant.Invoke(ctx, s.turns, []*ai.Tool{createAccountToolSchema()})
	if err != nil {
		s.logger.Error("model invocation failed", zap.Error(err))
		s.turns = append(s.turns, conversation.Assistant(modelUnavailableReply))
		s.state = StateAwaitingUserInput
		return []string{modelUnavailableReply}
	}

	var replies []string
	if reply.IsToolCall() {
		s.state = StateRepliedToolCall
		replies = s.handleToolCalls(ctx, reply)
	} else {
		s.state = StateRepliedText
		s.turns = append(s.turns, conversation.Assistant(reply.Text))
		replies = []string{reply.Text}
	}

	if s.state != StateTerminated {
		s.state = StateAwaitingUserInput
	}
	return replies
}

// injectContext runs the retrieval pipeline when the user turn matches a
// trigger keyword, appending the briefing as a system turn directly after the
// user turn. At most one injection happens per user turn.
func (s *Session) injectContext(ctx context.Context, text string) {
	if s.retrieval == nil || !matchesTrigger(text) {
		return
	}

	briefing := s.retrieval.Context(ctx, text)
	if briefing == "" {
		return
	}

	s.logger.Debug("injecting retrieval context", zap.Int("length", len(briefing)))
	s.turns = append(s.turns, conversation.System(briefing))
}

// handleToolCalls appends the assistant turn carrying the calls, dispatches
// every call to the provisioner, then re-invokes the model with no new user
// input to produce the natural-language follow-up.
func (s *Session) handleToolCalls(ctx context.Context, reply *ai.Reply) []string {
	s.turns = append(s.turns, &conversation.Turn{
		Role:      conversation.RoleAssistant,
		Content:   reply.Text,
		ToolCalls: reply.ToolCalls,
	})

	var replies []string
	if reply.Text != "" {
		replies = append(replies, reply.Text)
	}

	for _, call := range reply.ToolCalls {
		result := s.dispatch(ctx, call)
		s.turns = append(s.turns, conversation.ToolResult(call.Name, encodeResult(result)))

		if result.Status == provision.StatusSuccess || result.Status == provision.StatusExists {
			s.done = true
		}
	}

	// Follow-up invocation: the model narrates the tool outcome. Tools stay
	// registered so a second call in the follow-up does not confuse it; the
	// turn is recorded either way so the next pass sees any such call.
	followUp, err := s.assistant.Invoke(ctx, s.turns, []*ai.Tool{createAccountToolSchema()})
	if err != nil {
		s.logger.Error("follow-up invocation failed", zap.Error(err))
		s.turns = append(s.turns, conversation.Assistant(modelUnavailableReply))
		return append(replies, modelUnavailableReply)
	}

	if followUp.Text != "" || len(followUp.ToolCalls) > 0 {
		s.turns = append(s.turns, &conversation.Turn{
			Role:      conversation.RoleAssistant,
			Content:   followUp.Text,
			ToolCalls: followUp.ToolCalls,
		})
	}
	if followUp.Text != "" {
		replies = append(replies, followUp.Text)
	}

	return replies
}

func (s *Session) dispatch(ctx context.Context, call conversation.ToolCall) *provision.Result {
	if call.Name != CreateAccountTool {
		s.logger.Warn("model requested unknown tool", zap.String("tool", call.Name))
		return &provision.Result{
			Status:  provision.StatusError,
			Message: "Unknown tool: " + call.Name,
		}
	}

	req, err := parseAccountRequest(call.Args)
	if err != nil {
		s.logger.Warn("tool arguments rejected", zap.Error(err))
		return &provision.Result{
			Status:  provision.StatusError,
			Message: "The application details were incomplete: " + err.Error(),
		}
	}

	s.logger.Info("dispatching create_account",
		zap.String("program", req.Program),
		zap.Bool("authenticated", s.authenticated),
	)

	return s.provisioner.Provision(ctx, req, s.authenticated)
}

func encodeResult(result *provision.Result) string {
	data, err := json.Marshal(result)
	if err != nil {
		return `{"status":"error","message":"internal encoding failure"}`
	}
	return string(data)
}

func matchesTrigger(text string) bool {
	lower := strings.ToLower(text)
	for _, trigger := range retrievalTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}
