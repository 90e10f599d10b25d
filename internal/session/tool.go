package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/onwardai/keith-agent/internal/ai"
	"github.com/onwardai/keith-agent/internal/provision"

	"github.com/xeipuuv/gojsonschema"
)

// CreateAccountTool is the name of the single tool offered to the model.
const CreateAccountTool = "create_account"

// createAccountSchema validates the model-supplied arguments before dispatch.
// The model occasionally hallucinates shapes; a schema failure becomes an
// error tool result asking for corrected fields, never a crash.
const createAccountSchema = `{
	"type": "object",
	"properties": {
		"name":         {"type": "string", "minLength": 1},
		"email":        {"type": "string", "minLength": 1},
		"phone":        {"type": "string", "minLength": 1},
		"program_name": {"type": "string", "minLength": 1},
		"summary":      {"type": "string"}
	},
	"required": ["name", "email", "phone", "program_name", "summary"],
	"additionalProperties": true
}`

var createAccountLoader = gojsonschema.NewStringLoader(createAccountSchema)

func createAccountToolSchema() *ai.Tool {
	return &ai.Tool{
		Name:        CreateAccountTool,
		Description: "Create (or reuse) an account for the user and submit their application to the selected program. Call only after the user agreed and confirmed their details.",
		Parameters: []ai.Field{
			{Name: "name", Type: "string", Description: "The user's full name", Required: true},
			{Name: "email", Type: "string", Description: "The user's email address, as spoken or typed", Required: true},
			{Name: "phone", Type: "string", Description: "The user's phone number", Required: true},
			{Name: "program_name", Type: "string", Description: "The name of the program or organization to apply to", Required: true},
			{Name: "summary", Type: "string", Description: "Short summary of the user's situation and need", Required: true},
		},
	}
}

// parseAccountRequest validates the raw tool arguments and converts them into
// an AccountRequest.
func parseAccountRequest(args map[string]any) (provision.AccountRequest, error) {
	var req provision.AccountRequest

	result, err := gojsonschema.Validate(createAccountLoader, gojsonschema.NewGoLoader(args))
	if err != nil {
		return req, fmt.Errorf("validate tool arguments: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return req, fmt.Errorf("invalid tool arguments: %s", strings.Join(issues, "; "))
	}

	data, err := json.Marshal(args)
	if err != nil {
		return req, fmt.Errorf("marshal tool arguments: %w", err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode tool arguments: %w", err)
	}

	return req, nil
}
