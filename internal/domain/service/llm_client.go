package service

import (
	"context"
	"strings"
)

// LLMClient is the capability-shaped contract for a language model backend.
// Implementations live in infrastructure/llm.
type LLMClient interface {
	// Generate sends the conversation and returns the full completion.
	Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is the request sent to the language model
type LLMRequest struct {
	Messages    []LLMMessage `json:"messages"`
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature"`
}

// LLMMessage represents a single message in the conversation
type LLMMessage struct {
	Role    string        `json:"role"` // "system", "user", "assistant"
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"` // Multimodal content (takes precedence over Content)
}

// ContentPart represents a multimodal content fragment.
type ContentPart struct {
	Type     string `json:"type"`                // "text", "image"
	Text     string `json:"text,omitempty"`      // Content when Type="text"
	MediaURL string `json:"media_url,omitempty"` // URL or data URI when Type="image"
	MimeType string `json:"mime_type,omitempty"`
}

// TextContent returns all text content, joining text parts or falling back to Content.
func (m *LLMMessage) TextContent() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 {
		return m.Content
	}
	return strings.Join(texts, "\n")
}

// HasMedia returns true if the message contains non-text content.
func (m *LLMMessage) HasMedia() bool {
	for _, p := range m.Parts {
		if p.Type != "text" {
			return true
		}
	}
	return false
}

// LLMResponse is the response from the language model
type LLMResponse struct {
	Content    string `json:"content"`
	ModelUsed  string `json:"model_used"`
	TokensUsed int    `json:"tokens_used"`
}

// SystemMessage / UserMessage are small constructors used by prompt builders.
func SystemMessage(content string) LLMMessage {
	return LLMMessage{Role: "system", Content: content}
}

func UserMessage(content string) LLMMessage {
	return LLMMessage{Role: "user", Content: content}
}
