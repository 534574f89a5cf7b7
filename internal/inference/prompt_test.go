package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"peerclass/pkg/types"
)

func TestBuildPrompt_Deterministic(t *testing.T) {
	task := testTask()
	assert.Equal(t, BuildPrompt(task), BuildPrompt(task))
}

func TestBuildPrompt_Contents(t *testing.T) {
	prompt := BuildPrompt(testTask())
	assert.Contains(t, prompt, "Explain photosynthesis")
	assert.Contains(t, prompt, "light, water, CO2")
	assert.Contains(t, prompt, "Maximum score: 5")
	assert.Contains(t, prompt, "Plants convert light into energy.")
	assert.Contains(t, prompt, `"score"`)
}

func TestBuildPrompt_ImageAnswer(t *testing.T) {
	task := Task{
		Question:    types.Question{ID: "q1", Text: "Sketch the circuit", MaxScore: 3},
		AnswerImage: []byte{0xff, 0xd8},
	}
	prompt := BuildPrompt(task)
	assert.Contains(t, prompt, "attached image")
	assert.NotContains(t, prompt, "Marking guide")
}
