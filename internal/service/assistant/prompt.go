package assistant

import (
	"fmt"
	"strings"
)

// answerSections is the fixed structure every reply is asked to follow.
var answerSections = []string{
	"Possible disease name (or differential)",
	"General over-the-counter options or supportive care (no prescriptions)",
	"A 7-day diet plan",
	"Helpful yoga/exercises",
	"Future recommendations",
}

// SystemPrompt is sent ahead of every conversation.
var SystemPrompt = buildSystemPrompt()

func buildSystemPrompt() string {
	var builder strings.Builder
	builder.WriteString("You are an empathetic expert healthcare assistant. Provide:\n")
	for i, section := range answerSections {
		builder.WriteString(fmt.Sprintf("%d) %s,\n", i+1, section))
	}
	builder.WriteString("If chronic/recurring, suggest uploading medical reports. ")
	builder.WriteString("Be clear that this is not a medical diagnosis and advise consulting a doctor.")
	return builder.String()
}
