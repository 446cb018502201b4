package retrieval

import "strings"

const DefaultSystemPrompt = "You are a patient study assistant. Answer the student's question using the study material below. " +
	"Cite sources as [Source N]. If the material does not cover the question, say so and answer from general knowledge."

const noMaterial = "No relevant study material was found."

// Turn is one message of earlier conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// stopSequence ends generation when the model starts writing the next
// student turn itself.
const stopSequence = "\nStudent:"

// BuildPrompt lays out system instructions, retrieved context, history and
// the query as a plain-text transcript ending with an open assistant turn.
func BuildPrompt(system, contextText string, history []Turn, query string) string {
	if system == "" {
		system = DefaultSystemPrompt
	}
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\nStudy material:\n")
	if strings.TrimSpace(contextText) == "" {
		b.WriteString(noMaterial)
	} else {
		b.WriteString(contextText)
	}
	b.WriteString("\n\n")
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		b.WriteString(speaker(t.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Content))
		b.WriteString("\n")
	}
	b.WriteString("Student: ")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\nAssistant:")
	return b.String()
}

func speaker(role string) string {
	if strings.EqualFold(role, "assistant") {
		return "Assistant"
	}
	return "Student"
}
