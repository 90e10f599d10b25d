package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/onwardai/keith-agent/internal/ai"
	"github.com/onwardai/keith-agent/internal/conversation"
	"github.com/onwardai/keith-agent/internal/provision"
)

type stubAssistant struct {
	replies []*ai.Reply
	errs    []error
	calls   [][]*conversation.Turn
}

func (s *stubAssistant) Invoke(_ context.Context, turns []*conversation.Turn, _ []*ai.Tool) (*ai.Reply, error) {
	copied := make([]*conversation.Turn, len(turns))
	copy(copied, turns)
	s.calls = append(s.calls, copied)

	i := len(s.calls) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return &ai.Reply{Text: "ok"}, nil
}

type stubContext struct {
	briefing string
	queries  []string
}

func (s *stubContext) Context(_ context.Context, query string) string {
	s.queries = append(s.queries, query)
	return s.briefing
}

type stubProvisioner struct {
	result        *provision.Result
	requests      []provision.AccountRequest
	authenticated []bool
}

func (s *stubProvisioner) Provision(_ context.Context, req provision.AccountRequest, authenticated bool) *provision.Result {
	s.requests = append(s.requests, req)
	s.authenticated = append(s.authenticated, authenticated)
	return s.result
}

func validArgs() map[string]any {
	return map[string]any{
		"name":         "Jane Doe",
		"email":        "jane@example.com",
		"phone":        "555-0100",
		"program_name": "Pantry",
		"summary":      "Needs weekly groceries.",
	}
}

func TestRespondPlainTextReply(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{{Text: "Hello there"}}}
	sess := New("s1", assistant, nil, nil, nil)

	replies := sess.Respond(context.Background(), "hi")

	if len(replies) != 1 || replies[0] != "Hello there" {
		t.Fatalf("unexpected replies: %v", replies)
	}
	if sess.State() != StateAwaitingUserInput {
		t.Fatalf("expected session back at awaiting input, got %v", sess.State())
	}
	if sess.Done() {
		t.Fatalf("text reply must not settle the session")
	}

	history := sess.History()
	if len(history) != 3 {
		t.Fatalf("expected system, user, assistant turns, got %d", len(history))
	}
	if history[0].Role != conversation.RoleSystem ||
		history[1].Role != conversation.RoleUser ||
		history[2].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected turn order: %v %v %v", history[0].Role, history[1].Role, history[2].Role)
	}
}

func TestRespondInjectsContextOncePerTriggeringTurn(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{{Text: "Here is a food bank"}}}
	retrieval := &stubContext{briefing: "SYSTEM_RAG_RESULT: Found the following resources:\n..."}
	sess := New("s1", assistant, retrieval, nil, nil)

	sess.Respond(context.Background(), "I need food")

	if len(retrieval.queries) != 1 {
		t.Fatalf("expected exactly one retrieval pass, got %d", len(retrieval.queries))
	}

	history := sess.History()
	if len(history) != 4 {
		t.Fatalf("expected system, user, context, assistant turns, got %d", len(history))
	}
	if history[2].Role != conversation.RoleSystem || !strings.HasPrefix(history[2].Content, "SYSTEM_RAG_RESULT") {
		t.Fatalf("expected injected context after the user turn, got %+v", history[2])
	}
}

func TestRespondSkipsContextWithoutTrigger(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{{Text: "Sure"}}}
	retrieval := &stubContext{briefing: "should not appear"}
	sess := New("s1", assistant, retrieval, nil, nil)

	sess.Respond(context.Background(), "thanks, that was it")

	if len(retrieval.queries) != 0 {
		t.Fatalf("retrieval ran without a trigger keyword: %v", retrieval.queries)
	}
}

func TestRespondSkipsEmptyBriefing(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{{Text: "Sorry, nothing found"}}}
	retrieval := &stubContext{briefing: ""}
	sess := New("s1", assistant, retrieval, nil, nil)

	sess.Respond(context.Background(), "I need food")

	for _, turn := range sess.History() {
		if turn.Role == conversation.RoleSystem && turn.Content == "" {
			t.Fatalf("empty briefing must not be injected")
		}
	}
	if len(sess.History()) != 3 {
		t.Fatalf("expected no context turn, got %d turns", len(sess.History()))
	}
}

func TestRespondModelFailureYieldsCannedReply(t *testing.T) {
	assistant := &stubAssistant{errs: []error{errors.New("api down")}}
	sess := New("s1", assistant, nil, nil, nil)

	replies := sess.Respond(context.Background(), "hi")

	if len(replies) != 1 || !strings.Contains(replies[0], "trouble connecting") {
		t.Fatalf("expected the canned fallback, got %v", replies)
	}
	if sess.State() != StateAwaitingUserInput {
		t.Fatalf("session must stay open after a model failure, got %v", sess.State())
	}
}

func TestRespondToolCallFlow(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{
		{ToolCalls: []conversation.ToolCall{{ID: "c1", Name: CreateAccountTool, Args: validArgs()}}},
		{Text: "You're all set, Jane!"},
	}}
	prov := &stubProvisioner{result: &provision.Result{
		Status:  provision.StatusSuccess,
		Message: "Account created",
		UserID:  "u1",
	}}
	sess := New("s1", assistant, nil, prov, nil)

	replies := sess.Respond(context.Background(), "yes, apply for me")

	if len(replies) != 1 || replies[0] != "You're all set, Jane!" {
		t.Fatalf("expected the follow-up narration, got %v", replies)
	}
	if !sess.Done() {
		t.Fatalf("successful provisioning must settle the session")
	}
	if len(prov.requests) != 1 || prov.requests[0].Email != "jane@example.com" {
		t.Fatalf("unexpected provision request: %+v", prov.requests)
	}
	if prov.authenticated[0] {
		t.Fatalf("session is anonymous by default")
	}

	history := sess.History()
	// system, user, assistant(tool call), tool result, assistant follow-up
	if len(history) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(history))
	}
	if history[3].Role != conversation.RoleTool || history[3].ToolName != CreateAccountTool {
		t.Fatalf("expected tool result turn, got %+v", history[3])
	}
	if !strings.Contains(history[3].Content, `"status":"success"`) {
		t.Fatalf("tool result must carry the encoded outcome, got %q", history[3].Content)
	}

	// The follow-up invocation sees the tool result.
	if len(assistant.calls) != 2 {
		t.Fatalf("expected two model invocations, got %d", len(assistant.calls))
	}
}

func TestRespondFollowUpToolCallIsRecorded(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{
		{ToolCalls: []conversation.ToolCall{{ID: "c1", Name: CreateAccountTool, Args: map[string]any{"name": "Jane"}}}},
		{ToolCalls: []conversation.ToolCall{{ID: "c2", Name: CreateAccountTool, Args: validArgs()}}},
	}}
	sess := New("s1", assistant, nil, &stubProvisioner{}, nil)

	sess.Respond(context.Background(), "apply please")

	history := sess.History()
	last := history[len(history)-1]
	if last.Role != conversation.RoleAssistant || len(last.ToolCalls) != 1 {
		t.Fatalf("follow-up tool call must land in the history, got %+v", last)
	}
	if last.ToolCalls[0].ID != "c2" {
		t.Fatalf("expected the follow-up call recorded, got %+v", last.ToolCalls)
	}
}

func TestRespondDuplicateOutcomeAlsoSettles(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{
		{ToolCalls: []conversation.ToolCall{{Name: CreateAccountTool, Args: validArgs()}}},
		{Text: "You already applied."},
	}}
	prov := &stubProvisioner{result: &provision.Result{Status: provision.StatusExists, Message: "already applied"}}
	sess := New("s1", assistant, nil, prov, nil)

	sess.Respond(context.Background(), "apply please")

	if !sess.Done() {
		t.Fatalf("duplicate outcome must settle the session")
	}
}

func TestRespondInvalidToolArgumentsKeepSessionOpen(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{
		{ToolCalls: []conversation.ToolCall{{Name: CreateAccountTool, Args: map[string]any{"name": "Jane"}}}},
		{Text: "I still need your email and phone."},
	}}
	prov := &stubProvisioner{result: &provision.Result{Status: provision.StatusSuccess}}
	sess := New("s1", assistant, nil, prov, nil)

	sess.Respond(context.Background(), "apply please")

	if len(prov.requests) != 0 {
		t.Fatalf("invalid arguments must not reach the provisioner")
	}
	if sess.Done() {
		t.Fatalf("schema rejection must leave the session open")
	}
}

func TestRespondUnknownToolRejected(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{
		{ToolCalls: []conversation.ToolCall{{Name: "delete_everything", Args: map[string]any{}}}},
		{Text: "Sorry, I can't do that."},
	}}
	sess := New("s1", assistant, nil, &stubProvisioner{}, nil)

	sess.Respond(context.Background(), "apply please")

	history := sess.History()
	toolTurn := history[3]
	if !strings.Contains(toolTurn.Content, "Unknown tool") {
		t.Fatalf("expected unknown-tool error in the result, got %q", toolTurn.Content)
	}
	if sess.Done() {
		t.Fatalf("unknown tool must not settle the session")
	}
}

func TestRespondAuthenticatedFlagPassedThrough(t *testing.T) {
	assistant := &stubAssistant{replies: []*ai.Reply{
		{ToolCalls: []conversation.ToolCall{{Name: CreateAccountTool, Args: validArgs()}}},
		{Text: "done"},
	}}
	prov := &stubProvisioner{result: &provision.Result{Status: provision.StatusSuccess}}
	sess := New("s1", assistant, nil, prov, nil)
	sess.SetAuthenticated(true)

	sess.Respond(context.Background(), "apply please")

	if len(prov.authenticated) != 1 || !prov.authenticated[0] {
		t.Fatalf("expected authenticated=true to reach the provisioner")
	}
}

func TestRespondAfterTerminateIsNoop(t *testing.T) {
	assistant := &stubAssistant{}
	sess := New("s1", assistant, nil, nil, nil)
	sess.Terminate()

	if replies := sess.Respond(context.Background(), "hello?"); replies != nil {
		t.Fatalf("terminated session must not reply, got %v", replies)
	}
	if len(assistant.calls) != 0 {
		t.Fatalf("terminated session must not invoke the model")
	}
}

func TestParseAccountRequestRejectsMissingFields(t *testing.T) {
	t.Parallel()

	_, err := parseAccountRequest(map[string]any{"name": "Jane", "email": "jane@example.com"})
	if err == nil {
		t.Fatalf("expected validation error for missing required fields")
	}
}

func TestParseAccountRequestMapsFields(t *testing.T) {
	t.Parallel()

	req, err := parseAccountRequest(validArgs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Name != "Jane Doe" || req.Program != "Pantry" || req.Summary != "Needs weekly groceries." {
		t.Fatalf("unexpected request: %+v", req)
	}
}
