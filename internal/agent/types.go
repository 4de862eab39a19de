package agent

import "context"

// Step is one tool invocation made while producing a response. Observation
// is the raw tool output, usually a JSON document.
type Step struct {
	Tool        string `json:"tool"`
	Observation string `json:"observation"`
}

// Response is the structured result of one turn.
type Response struct {
	Output string `json:"output"`
	Steps  []Step `json:"intermediateSteps,omitempty"`
}

// ToolsUsed lists the tools invoked, in order.
func (r *Response) ToolsUsed() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		out = append(out, s.Tool)
	}
	return out
}

// FunctionTool is a callable the in-process agent exposes to the model.
// Parameters is a JSON schema object.
type FunctionTool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Call        func(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolProvider returns the tool-set for an account.
type ToolProvider func(ctx context.Context, accountID string) ([]FunctionTool, error)
