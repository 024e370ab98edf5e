package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	got := BuildSystemPrompt("Fix the parser", "I'm done!")

	assert.Contains(t, got, "Fix the parser")
	assert.Contains(t, got, "<promise>I'm done!</promise>")
	assert.NotContains(t, got, "{{.Task}}")
	assert.NotContains(t, got, "{{.Promise}}")
}

func TestIterationPrompt(t *testing.T) {
	cfg := &Config{Prompt: "Fix the parser", MaxIterations: 5}
	eng := NewEngine(cfg, nil)

	got := eng.iterationPrompt(2)
	assert.Contains(t, got, "[Iteration 2/5]")
	assert.Contains(t, got, "Fix the parser")
}
