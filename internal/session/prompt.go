package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/llm"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Now         time.Time
	SessionID   string
	UserID      string
	Tools       []llm.ToolDefinition
	Summary     *domain.Summary
	ExtraPrompt string
}

// BuildSystemPrompt constructs the system prompt for one turn.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current date: %s\n", cfg.Now.UTC().Format("2006-01-02"))
	if cfg.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", cfg.SessionID)
	}
	if cfg.UserID != "" {
		fmt.Fprintf(&b, "User: %s\n", cfg.UserID)
	}

	b.WriteString("\nGuidelines:\n")
	b.WriteString("- Answer the latest user message using the conversation so far.\n")
	if len(cfg.Tools) > 0 {
		b.WriteString("- When using tools, explain what you're doing.\n")
		b.WriteString("\n## Available Tools\n\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	if cfg.Summary != nil && cfg.Summary.Content != "" {
		b.WriteString("\n## Earlier conversation (summarized)\n\n")
		b.WriteString(cfg.Summary.Content)
		b.WriteString("\n")
	}

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	return b.String()
}

// historyMessages converts stored history to model messages. Stored tool
// entries have no call id to pair with, so they are replayed as user turns.
func historyMessages(entries []domain.HistoryEntry) []llm.Message {
	msgs := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case domain.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: e.Content})
		case domain.RoleSystem:
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: e.Content})
		case domain.RoleTool:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: "[tool result] " + e.Content})
		default:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: e.Content})
		}
	}
	return msgs
}

// toolEntry renders a tool outcome for history.
func toolEntry(name, output string, isError bool) string {
	if isError {
		return fmt.Sprintf("%s failed: %s", name, output)
	}
	return fmt.Sprintf("%s: %s", name, output)
}

// Some models emit tool-call markup as text instead of native calls.
var (
	xmlFuncCallRe       = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)
	whitespaceLineRe    = regexp.MustCompile(`(?m)^[ \t]+$`)
	blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)
)

// tidyResponse removes stray function-call markup and collapses the blank
// lines it leaves behind.
func tidyResponse(text string) string {
	cleaned := xmlFuncCallRe.ReplaceAllString(text, "\n\n")
	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
