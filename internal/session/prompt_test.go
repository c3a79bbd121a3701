package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/llm"
)

func TestBuildSystemPrompt(t *testing.T) {
	p := BuildSystemPrompt(PromptConfig{
		Now:         time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC),
		SessionID:   "s1",
		UserID:      "u1",
		Tools:       []llm.ToolDefinition{{Name: "current_time", Description: "Tells the time."}},
		Summary:     &domain.Summary{Content: "The user asked about billing."},
		ExtraPrompt: "Be brief.",
	})
	assert.Contains(t, p, "Current date: 2026-03-14\n")
	assert.Contains(t, p, "Session: s1\n")
	assert.Contains(t, p, "User: u1\n")
	assert.Contains(t, p, "- current_time: Tells the time.\n")
	assert.Contains(t, p, "The user asked about billing.")
	assert.Contains(t, p, "Be brief.")
}

func TestBuildSystemPromptMinimal(t *testing.T) {
	p := BuildSystemPrompt(PromptConfig{Now: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})
	assert.NotContains(t, p, "Available Tools")
	assert.NotContains(t, p, "summarized")
	assert.NotContains(t, p, "Session:")
}

func TestHistoryMessages(t *testing.T) {
	msgs := historyMessages([]domain.HistoryEntry{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
		{Role: domain.RoleTool, Content: "current_time: {}"},
		{Role: domain.RoleSystem, Content: "note"},
	})
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleUser, Content: "[tool result] current_time: {}"},
		{Role: llm.RoleSystem, Content: "note"},
	}, msgs)
}

func TestTidyResponse(t *testing.T) {
	in := "Here you go.\n<function_calls><invoke name=\"x\"></invoke></function_calls>\n  \n\n\nDone.  "
	assert.Equal(t, "Here you go.\n\nDone.", tidyResponse(in))
	assert.Equal(t, "plain", tidyResponse("plain"))
}
