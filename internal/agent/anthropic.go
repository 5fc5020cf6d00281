package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const maxTokensPerCall = 8192

// AnthropicConfig configures the Anthropic-backed agent runtime.
type AnthropicConfig struct {
	APIKey   string
	Model    string
	MaxTurns int

	// Cost rates in USD per million tokens, used for the end-of-turn
	// accounting record.
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}

// AnthropicRuntime runs agent turns against the Anthropic Messages API,
// looping on tool use until the model stops or the turn limit is hit.
type AnthropicRuntime struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicRuntime builds a runtime from cfg.
func NewAnthropicRuntime(cfg AnthropicConfig) *AnthropicRuntime {
	return &AnthropicRuntime{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
	}
}

type toolCall struct {
	id    string
	name  string
	input map[string]any
}

// OpenTurn implements Runtime. The returned sequence emits a system
// event, then alternating assistant and tool-result user events, and
// finally a result event with the accumulated cost.
func (r *AnthropicRuntime) OpenTurn(ctx context.Context, req TurnRequest) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		model := r.cfg.Model
		if req.Model != "" {
			model = req.Model
		}
		maxTurns := r.cfg.MaxTurns
		if req.MaxTurns > 0 {
			maxTurns = req.MaxTurns
		}

		if !yield(&Event{
			Kind:      EventKindSystem,
			Timestamp: now(),
			Text:      fmt.Sprintf("agent session started with model %s", model),
		}, nil) {
			return
		}

		var tools []anthropic.ToolUnionParam
		if req.Toolbox != nil {
			for _, spec := range req.Toolbox.Specs() {
				tools = append(tools, anthropic.ToolUnionParam{
					OfTool: &anthropic.ToolParam{
						Name:        spec.Name,
						Description: anthropic.String(spec.Description),
						InputSchema: anthropic.ToolInputSchemaParam{
							Properties: spec.Properties,
							Required:   spec.Required,
						},
					},
				})
			}
		}

		messages := []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		}
		var totalCost float64

		for turn := 0; turn < maxTurns; turn++ {
			params := anthropic.MessageNewParams{
				Model:     anthropic.Model(model),
				MaxTokens: maxTokensPerCall,
				Messages:  messages,
			}
			if req.Instructions != "" {
				params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
			}
			if len(tools) > 0 {
				params.Tools = tools
			}

			msg, err := r.client.Messages.New(ctx, params)
			if err != nil {
				yield(nil, fmt.Errorf("agent model call: %w", err))
				return
			}
			totalCost += r.callCost(msg.Usage)

			ev := &Event{Kind: EventKindAssistant, ID: msg.ID, Timestamp: now()}
			var calls []toolCall
			for _, block := range msg.Content {
				switch b := block.AsAny().(type) {
				case anthropic.TextBlock:
					ev.Blocks = append(ev.Blocks, EventBlock{Kind: "text", Text: b.Text})
				case anthropic.ToolUseBlock:
					var input map[string]any
					if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &input); err != nil {
						input = map[string]any{}
					}
					ev.Blocks = append(ev.Blocks, EventBlock{
						Kind:  "tool_use",
						ID:    b.ID,
						Name:  b.Name,
						Input: input,
					})
					calls = append(calls, toolCall{id: b.ID, name: b.Name, input: input})
				}
			}
			if !yield(ev, nil) {
				return
			}

			if msg.StopReason != anthropic.StopReasonToolUse || len(calls) == 0 || req.Toolbox == nil {
				yield(&Event{Kind: EventKindResult, Timestamp: now(), TotalCostUSD: totalCost}, nil)
				return
			}

			userEv := &Event{Kind: EventKindUser, Timestamp: now()}
			var resultBlocks []anthropic.ContentBlockParamUnion
			for _, call := range calls {
				res := req.Toolbox.Invoke(ctx, call.name, call.input)
				userEv.Blocks = append(userEv.Blocks, EventBlock{
					Kind:      "tool_result",
					ToolUseID: call.id,
					Content:   res.Content,
				})
				resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(call.id, res.Content, res.IsError))
			}
			if !yield(userEv, nil) {
				return
			}

			messages = append(messages, msg.ToParam(), anthropic.NewUserMessage(resultBlocks...))
		}

		yield(&Event{
			Kind:         EventKindResult,
			Timestamp:    now(),
			TotalCostUSD: totalCost,
			IsError:      true,
		}, nil)
	}
}

func (r *AnthropicRuntime) callCost(u anthropic.Usage) float64 {
	return float64(u.InputTokens)*r.cfg.InputCostPerMTok/1e6 +
		float64(u.OutputTokens)*r.cfg.OutputCostPerMTok/1e6
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
