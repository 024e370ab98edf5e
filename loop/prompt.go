package loop

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed system.md
var systemPromptTemplate string

// BuildSystemPrompt renders the embedded system prompt template,
// substituting the task and the completion phrase.
func BuildSystemPrompt(task, promisePhrase string) string {
	result := strings.ReplaceAll(systemPromptTemplate, "{{.Task}}", task)
	return strings.ReplaceAll(result, "{{.Promise}}", promisePhrase)
}

// iterationPrompt prefixes the task prompt with the iteration marker.
func (e *Engine) iterationPrompt(iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Iteration %d/%d]\n\n", iteration, e.config.MaxIterations)
	b.WriteString(e.config.Prompt)
	return b.String()
}
