package prompts

import (
	"fmt"
	"os"
	"strings"
)

const plannerTemplate = `You turn spoken commands into calls to automation scripts on the user's computer.

## Choosing
- Each available function is one script. Pick the single function that best matches the command and fill its arguments from what the user said.
- Prefer a function call over a spoken reply whenever any function fits.
- Never invent function names or arguments that are not declared.

## Several steps
When the command needs more than one script, reply with JSON only, no prose:
{"plan": [{"tool": "<function name>", "args": {"<name>": <value>}}, ...]}
Steps run in the order listed. Later steps may rely on earlier ones.

## No match
If nothing fits, reply in one short sentence that can be read aloud.`

// PlannerSystemPrompt returns the built-in planner instruction.
func PlannerSystemPrompt() string {
	return plannerTemplate
}

// LoadSystemPrompt returns the contents of path when it is set,
// otherwise the built-in planner instruction.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return PlannerSystemPrompt(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("system prompt %s is empty", path)
	}
	return text, nil
}
