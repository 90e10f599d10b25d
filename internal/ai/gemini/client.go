// Package gemini implements the Assistant interface on the Google GenAI API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/onwardai/keith-agent/internal/ai"
	"github.com/onwardai/keith-agent/internal/conversation"
	"github.com/onwardai/keith-agent/internal/logger"
	"github.com/onwardai/keith-agent/internal/utils"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel        = "gemini-2.5-flash"
	defaultMaxLogLength = 200

	retryBackoff = 2 * time.Second
)

// Client wraps the Google GenAI client and adapts conversation histories to
// the Gemini content format.
type Client struct {
	client     *genai.Client
	modelName  string
	maxRetries int
	maxLogLen  int
	logger     *zap.Logger
}

// NewClient creates a Client configured for the Gemini API backend.
func NewClient(ctx context.Context, apiKey, model string, maxRetries int, log *zap.Logger) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		client:     client,
		modelName:  model,
		maxRetries: maxRetries,
		maxLogLen:  defaultMaxLogLength,
		logger:     logger.WithCommonFields(log, "gemini", model),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.modelName
}

// Invoke sends the full ordered history to Gemini and returns either the
// textual reply, the requested tool calls, or both.
func (c *Client) Invoke(ctx context.Context, turns []*conversation.Turn, tools []*ai.Tool) (*ai.Reply, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("gemini client is not initialized")
	}
	if len(turns) == 0 {
		return nil, errors.New("conversation history must not be empty")
	}

	contents, system := convertTurns(turns)
	if len(contents) == 0 {
		return nil, errors.New("conversation history has no model-visible turns")
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if declarations := convertTools(tools); len(declarations) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	c.logger.Debug("gemini invoke request",
		zap.Int("turns", len(turns)),
		zap.Int("tools", len(tools)),
	)

	var resp *genai.GenerateContentResponse
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = c.client.Models.GenerateContent(ctx, c.modelName, contents, config)
		if err == nil {
			break
		}
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("generate content: %w", err)
		}

		c.logger.Warn("gemini call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if werr := utils.WaitFor(ctx, retryBackoff); werr != nil {
			return nil, fmt.Errorf("generate content: %w", err)
		}
	}

	reply := parseResponse(resp)
	if reply.Text == "" && len(reply.ToolCalls) == 0 {
		return nil, errors.New("gemini api returned empty response")
	}

	c.logger.Debug("gemini invoke response",
		zap.Int("response_length", utf8.RuneCountInString(reply.Text)),
		zap.String("response_preview", utils.TruncateForLog(reply.Text, c.maxLogLen)),
		zap.Int("tool_calls", len(reply.ToolCalls)),
	)

	return reply, nil
}

// convertTurns maps the role-based history to Gemini contents. The first
// system turn becomes the system instruction; later system turns (injected
// retrieval context) are carried as user content since Gemini only accepts
// user and model roles mid-conversation.
func convertTurns(turns []*conversation.Turn) ([]*genai.Content, string) {
	var (
		contents []*genai.Content
		system   string
	)

	for i, turn := range turns {
		if turn == nil {
			continue
		}

		switch turn.Role {
		case conversation.RoleSystem:
			if i == 0 {
				system = turn.Content
				continue
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: turn.Content}},
			})
		case conversation.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: turn.Content}},
			})
		case conversation.RoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(turn.ToolCalls))
			if turn.Content != "" {
				parts = append(parts, &genai.Part{Text: turn.Content})
			}
			for _, call := range turn.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: call.Args,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case conversation.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     turn.ToolName,
						Response: map[string]any{"content": turn.Content},
					},
				}},
			})
		}
	}

	return contents, system
}

func convertTools(tools []*ai.Tool) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}

		properties := make(map[string]*genai.Schema, len(tool.Parameters))
		var required []string
		for _, field := range tool.Parameters {
			properties[field.Name] = &genai.Schema{
				Type:        schemaType(field.Type),
				Description: field.Description,
			}
			if field.Required {
				required = append(required, field.Name)
			}
		}

		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   required,
			},
		})
	}
	return declarations
}

func schemaType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func parseResponse(resp *genai.GenerateContentResponse) *ai.Reply {
	reply := &ai.Reply{}
	if resp == nil {
		return reply
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if text := strings.TrimSpace(part.Text); text != "" {
				if builder.Len() > 0 {
					builder.WriteString("\n")
				}
				builder.WriteString(text)
			}
			if part.FunctionCall != nil {
				reply.ToolCalls = append(reply.ToolCalls, conversation.ToolCall{
					ID:   part.FunctionCall.ID,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
	}

	reply.Text = strings.TrimSpace(builder.String())
	return reply
}
