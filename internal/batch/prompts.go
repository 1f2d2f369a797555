package batch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tapestry-ai/tapestry/internal/model"
)

// memoryResponseSchema constrains the generation output for one group.
var memoryResponseSchema = json.RawMessage(`{
	"type": "object",
	"required": ["memories"],
	"properties": {
		"memories": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["content", "from_date", "to_date"],
				"properties": {
					"content": {"type": "string"},
					"from_date": {"type": "string"},
					"to_date": {"type": "string"}
				}
			}
		}
	}
}`)

// refinementResponseSchema constrains the refinement output for one cluster.
var refinementResponseSchema = json.RawMessage(`{
	"type": "object",
	"required": ["memories"],
	"properties": {
		"memories": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["content", "from_date", "to_date", "source_ids"],
				"properties": {
					"content": {"type": "string"},
					"from_date": {"type": "string"},
					"to_date": {"type": "string"},
					"source_ids": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`)

// generatedMemory is one memory in a generation or refinement response.
type generatedMemory struct {
	Content   string   `json:"content"`
	FromDate  string   `json:"from_date"`
	ToDate    string   `json:"to_date"`
	SourceIDs []string `json:"source_ids,omitempty"`
}

// memoryEnvelope is the response document for one prompt item.
type memoryEnvelope struct {
	Memories []generatedMemory `json:"memories"`
}

// buildMemoryPrompt renders the generation prompt for one thread group.
func buildMemoryPrompt(group model.ThreadGroup, profile string, minMemories, maxMemories int) string {
	var sb strings.Builder

	sb.WriteString("You are distilling a personal data archive into durable memories.\n")
	sb.WriteString("Read the interactions below and produce concise first-person memories,\n")
	sb.WriteString("each with an inclusive date range (ISO dates) covering the events it describes.\n\n")

	if profile != "" {
		sb.WriteString("What is already known about the person:\n")
		sb.WriteString(profile)
		sb.WriteString("\n\n")
	}

	if minMemories > 0 || maxMemories > 0 {
		fmt.Fprintf(&sb, "Produce between %d and %d memories.\n\n", minMemories, maxMemories)
	}

	fmt.Fprintf(&sb, "Interactions for %s:\n\n", group.GroupID)

	for _, thread := range group.Threads {
		fmt.Fprintf(&sb, "--- %s (%s) ---\n", model.DateOnly(thread.AsAt), thread.InteractionType)

		if thread.Preview != "" {
			sb.WriteString(thread.Preview)
		} else {
			sb.Write(thread.Payload)
		}

		sb.WriteString("\n")
	}

	sb.WriteString("\nRespond with JSON: {\"memories\": [{\"content\", \"from_date\", \"to_date\"}]}.\n")

	return sb.String()
}

// buildRefinementPrompt renders the refinement prompt for one cluster of
// overlapping memories.
func buildRefinementPrompt(cluster []*model.Memory) string {
	var sb strings.Builder

	sb.WriteString("The memories below describe overlapping events. Merge them into\n")
	sb.WriteString("fewer, richer memories. Each output must list the ids of the input\n")
	sb.WriteString("memories it replaces in source_ids.\n\n")

	for _, memory := range cluster {
		fmt.Fprintf(&sb, "[%s] %s .. %s\n%s\n\n",
			memory.ID,
			model.DateOnly(memory.FromDate),
			model.DateOnly(memory.ToDate),
			memory.Content)
	}

	sb.WriteString("Respond with JSON: {\"memories\": [{\"content\", \"from_date\", \"to_date\", \"source_ids\"}]}.\n")

	return sb.String()
}
