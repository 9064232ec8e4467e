package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// screenAnalysisSchema is the JSON schema the analysis service must answer with.
var screenAnalysisSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "status": {"type": "string", "enum": ["focused", "distracted"]},
    "subject": {"type": "string"},
    "description": {"type": "string"},
    "message": {"type": "string"}
  },
  "required": ["status", "subject", "description"]
}`)

// ScreenAnalysisSchema returns the response schema for focus analysis.
func ScreenAnalysisSchema() json.RawMessage {
	return screenAnalysisSchema
}

// BuildFocusPrompt renders the instruction sent with every screenshot.
func BuildFocusPrompt(task, appName, windowTitle string) string {
	var b strings.Builder
	b.WriteString("You are watching a screenshot of the user's active window to decide whether they are focused on their work.\n")
	if task != "" {
		fmt.Fprintf(&b, "The user's current task: %s\n", task)
	}
	fmt.Fprintf(&b, "Active app: %s\n", appName)
	if windowTitle != "" {
		fmt.Fprintf(&b, "Window title: %s\n", windowTitle)
	}
	b.WriteString(`Answer with JSON only. "status" is "focused" when the screen serves the task and "distracted" otherwise. `)
	b.WriteString(`"subject" names what is on screen in a few words, "description" explains it in one sentence. `)
	b.WriteString(`When distracted, "message" is a short friendly nudge back to work.`)
	b.WriteString("\nPrevious observations (most recent first) are provided as context; use them to judge whether the user drifted.")
	return b.String()
}

// DecodeScreenAnalysis parses and validates a service answer.
func DecodeScreenAnalysis(raw json.RawMessage) (domain.ScreenAnalysis, error) {
	var analysis domain.ScreenAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return domain.ScreenAnalysis{}, fmt.Errorf("%w: %v", domain.ErrInvalidAnalysis, err)
	}
	analysis.Status = domain.Status(strings.ToLower(strings.TrimSpace(string(analysis.Status))))
	if !analysis.Status.Valid() {
		return domain.ScreenAnalysis{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidAnalysis, analysis.Status)
	}
	analysis.Subject = strings.TrimSpace(analysis.Subject)
	analysis.Description = strings.TrimSpace(analysis.Description)
	if analysis.Subject == "" || analysis.Description == "" {
		return domain.ScreenAnalysis{}, fmt.Errorf("%w: subject and description are required", domain.ErrInvalidAnalysis)
	}
	return analysis, nil
}
