// Package domain contains core domain types for the vulnlab application.
package domain

// MessageType discriminates the conversation message variants.
type MessageType string

const (
	// MessageTypeUser is a user-authored message (prompt or tool results).
	MessageTypeUser MessageType = "user"
	// MessageTypeAssistant is an agent-authored message.
	MessageTypeAssistant MessageType = "assistant"
	// MessageTypeSystem is an agent runtime status message.
	MessageTypeSystem MessageType = "system"
	// MessageTypeResult is the end-of-turn accounting record.
	MessageTypeResult MessageType = "result"
	// MessageTypeUnknown wraps events the normalizer could not classify.
	MessageTypeUnknown MessageType = "unknown"
)

// Content block type tags.
const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// ContentBlock is one element of a message payload. The Type tag selects
// which of the remaining fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
}

// TextBlock builds a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// Message is the canonical, variant-tagged representation of one
// conversation record. user/assistant/system/unknown variants carry
// Content; result carries TotalCostUSD and IsError.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Type      MessageType    `json:"type"`
	Content   []ContentBlock `json:"content,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`

	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
	IsError      *bool    `json:"is_error,omitempty"`
}

// FirstText returns the text of the first text block, or "" if none.
func (m Message) FirstText() string {
	for _, b := range m.Content {
		if b.Type == BlockTypeText {
			return b.Text
		}
	}
	return ""
}
