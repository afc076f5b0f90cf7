package omega

import (
	"strings"

	"github.com/tpmjs/omega/internal/agent"
	"github.com/tpmjs/omega/pkg/models"
)

const titleMaxLen = 80

// BuildSystemPrompt composes the turn's system prompt: the base prompt
// (overridden by the user's custom prompt when set), pinned-tool hints,
// and a listing of every tool currently callable.
func BuildSystemPrompt(base string, settings *models.UserSettings, static, dynamic []agent.Tool) string {
	var b strings.Builder

	prompt := base
	if settings != nil && strings.TrimSpace(settings.SystemPrompt) != "" {
		prompt = settings.SystemPrompt
	}
	b.WriteString(strings.TrimSpace(prompt))

	if settings != nil && len(settings.PinnedToolIDs) > 0 {
		b.WriteString("\n\nThe user prefers these tools when relevant: ")
		b.WriteString(strings.Join(settings.PinnedToolIDs, ", "))
		b.WriteString(".")
	}

	b.WriteString("\n\nAvailable tools:\n")
	for _, t := range static {
		writeToolLine(&b, t)
	}
	for _, t := range dynamic {
		writeToolLine(&b, t)
	}
	if len(dynamic) == 0 {
		b.WriteString("No dynamic tools are loaded yet. Use registrySearchTool to discover tools for the user's request.\n")
	}

	return b.String()
}

func writeToolLine(b *strings.Builder, t agent.Tool) {
	b.WriteString("- ")
	b.WriteString(t.Name())
	desc := t.Description()
	if desc != "" {
		b.WriteString(": ")
		b.WriteString(desc)
	}
	b.WriteString("\n")
}

// DeriveTitle produces a conversation title from the first user message:
// the message itself when short, otherwise a prefix truncated at a word
// boundary.
func DeriveTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if title == "" {
		return ""
	}
	if len(title) <= titleMaxLen {
		return title
	}
	cut := title[:titleMaxLen]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
