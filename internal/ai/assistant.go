// Package ai defines the dialogue model abstraction consumed by the session
// layer. Providers turn an ordered conversation history plus optional tool
// schemas into either a text reply or tool-invocation requests.
package ai

import (
	"context"

	"github.com/onwardai/keith-agent/internal/conversation"
)

// Field describes one parameter of a tool schema.
type Field struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Tool is a callable operation offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  []Field
}

// Reply is the model's answer to one invocation. Either Text is set (plain
// reply) or ToolCalls carries one or more invocation requests; a provider may
// return both when the model mixes narration with a call.
type Reply struct {
	Text      string
	ToolCalls []conversation.ToolCall
}

// IsToolCall reports whether the reply requests at least one tool invocation.
func (r *Reply) IsToolCall() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Assistant is the opaque text-generation capability. Implementations must
// honor the turn order of the provided history.
type Assistant interface {
	Invoke(ctx context.Context, turns []*conversation.Turn, tools []*Tool) (*Reply, error)
}
