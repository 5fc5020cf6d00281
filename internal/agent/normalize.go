package agent

import (
	"fmt"

	"github.com/akarpov/vulnlab/internal/domain"
)

// Normalize converts a raw runtime event into the canonical message
// shape. It never fails: malformed events degrade to an unknown message
// carrying a text rendering of whatever was received, so the stream is
// preserved end to end.
func Normalize(ev *Event) (msg *domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			msg = &domain.Message{
				Type:      domain.MessageTypeUnknown,
				Content:   []domain.ContentBlock{domain.TextBlock(fmt.Sprintf("malformed event: %v", r))},
				Timestamp: now(),
			}
		}
	}()

	ts := ev.Timestamp
	if ts == "" {
		ts = now()
	}

	switch ev.Kind {
	case EventKindUser:
		return &domain.Message{
			ID:        ev.ID,
			Type:      domain.MessageTypeUser,
			Content:   normalizeBlocks(ev.Blocks, domain.BlockTypeText, domain.BlockTypeToolResult),
			Timestamp: ts,
		}
	case EventKindAssistant:
		return &domain.Message{
			ID:        ev.ID,
			Type:      domain.MessageTypeAssistant,
			Content:   normalizeBlocks(ev.Blocks, domain.BlockTypeText, domain.BlockTypeToolUse),
			Timestamp: ts,
		}
	case EventKindSystem:
		return &domain.Message{
			ID:        ev.ID,
			Type:      domain.MessageTypeSystem,
			Content:   []domain.ContentBlock{domain.TextBlock(ev.Text)},
			Timestamp: ts,
		}
	case EventKindResult:
		cost := ev.TotalCostUSD
		isErr := ev.IsError
		return &domain.Message{
			ID:           ev.ID,
			Type:         domain.MessageTypeResult,
			Timestamp:    ts,
			TotalCostUSD: &cost,
			IsError:      &isErr,
		}
	default:
		raw := ev.Raw
		if raw == nil {
			raw = ev
		}
		return &domain.Message{
			ID:        ev.ID,
			Type:      domain.MessageTypeUnknown,
			Content:   []domain.ContentBlock{domain.TextBlock(fmt.Sprintf("%+v", raw))},
			Timestamp: ts,
		}
	}
}

// normalizeBlocks maps raw blocks to content blocks, keeping only the
// kinds allowed for the message variant.
func normalizeBlocks(blocks []EventBlock, allowed ...string) []domain.ContentBlock {
	out := make([]domain.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		ok := false
		for _, a := range allowed {
			if b.Kind == a {
				ok = true
				break
			}
		}
		if !ok {
			continue
		}
		switch b.Kind {
		case domain.BlockTypeText:
			out = append(out, domain.TextBlock(b.Text))
		case domain.BlockTypeToolUse:
			out = append(out, domain.ContentBlock{
				Type:  domain.BlockTypeToolUse,
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		case domain.BlockTypeToolResult:
			out = append(out, domain.ContentBlock{
				Type:      domain.BlockTypeToolResult,
				ToolUseID: b.ToolUseID,
				Content:   b.Content,
			})
		}
	}
	return out
}
