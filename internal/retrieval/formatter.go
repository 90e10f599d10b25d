package retrieval

import (
	"fmt"
	"strings"
)

const (
	contextHeader      = "SYSTEM_RAG_RESULT: Found the following resources:\n"
	contextInstruction = "INSTRUCTION: Explain the best match first, prioritizing LOCATION match. Mention others if they might help."

	defaultApplicationProcess = "Contact them directly for details."
)

// Format renders the shortlist into the structured briefing injected into the
// dialogue as a system turn. An empty shortlist yields an empty string and no
// context is injected.
func Format(shortlist []ScoredCandidate) string {
	if len(shortlist) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(contextHeader)

	for _, candidate := range shortlist {
		resource := candidate.Resource

		process := strings.TrimSpace(resource.ApplicationProcess)
		if process == "" {
			process = defaultApplicationProcess
		}

		fmt.Fprintf(&b, "- Name: '%s'\n", resource.Name)
		fmt.Fprintf(&b, "  Categories: %s\n", strings.Join(resource.Categories(), ", "))
		fmt.Fprintf(&b, "  Service Area: %s\n", resource.ServiceArea())
		fmt.Fprintf(&b, "  Description: %s\n", resource.Description)
		fmt.Fprintf(&b, "  Application Process: %s\n", process)
		fmt.Fprintf(&b, "  Available Programs: %s\n\n", resource.ProgramsJSON())
	}

	b.WriteString(contextInstruction)
	return b.String()
}
