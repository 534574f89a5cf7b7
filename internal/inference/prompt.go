package inference

import (
	"fmt"
	"strings"
)

// BuildPrompt combines marking guide, question and answer into the structure
// the model expects. Deterministic: the same task always produces the same
// prompt, so grading output differences come from the model alone.
func BuildPrompt(task Task) string {
	var b strings.Builder

	b.WriteString("You are grading one student answer for a classroom assessment.\n\n")
	fmt.Fprintf(&b, "Question:\n%s\n\n", strings.TrimSpace(task.Question.Text))
	if guide := strings.TrimSpace(task.Question.MarkingGuide); guide != "" {
		fmt.Fprintf(&b, "Marking guide:\n%s\n\n", guide)
	}
	fmt.Fprintf(&b, "Maximum score: %g\n\n", task.Question.MaxScore)

	if len(task.AnswerImage) > 0 {
		b.WriteString("Student answer: see the attached image.\n\n")
	} else {
		fmt.Fprintf(&b, "Student answer:\n%s\n\n", strings.TrimSpace(task.AnswerText))
	}

	fmt.Fprintf(&b,
		"Respond with a single JSON object and nothing else: "+
			`{"score": <number between 0 and %g>, "feedback": "<one or two sentences for the student>"}`,
		task.Question.MaxScore)

	return b.String()
}
