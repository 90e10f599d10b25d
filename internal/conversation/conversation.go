// Package conversation defines the turn model shared by the dialogue session
// and the model providers.
package conversation

// Turn roles. The first system turn of a history carries the persona prompt;
// later system turns carry injected retrieval context.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a model-requested invocation of a registered tool.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Turn is a single entry in an ordered conversation history.
type Turn struct {
	Role    string     `json:"role"`
	Content string     `json:"content,omitempty"`
	// ToolCalls is set on assistant turns that requested tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolName is set on tool turns and names the call the content answers.
	ToolName string `json:"tool_name,omitempty"`
}

// System returns a system-role turn.
func System(content string) *Turn { return &Turn{Role: RoleSystem, Content: content} }

// User returns a user-role turn.
func User(content string) *Turn { return &Turn{Role: RoleUser, Content: content} }

// Assistant returns an assistant-role text turn.
func Assistant(content string) *Turn { return &Turn{Role: RoleAssistant, Content: content} }

// ToolResult returns a tool-role turn carrying a structured result.
func ToolResult(name, content string) *Turn {
	return &Turn{Role: RoleTool, ToolName: name, Content: content}
}
