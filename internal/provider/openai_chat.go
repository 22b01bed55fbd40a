package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// chatService narrows the SDK's chat-completions client to the two calls
// this package needs, mirroring the teacher's interface-over-SDK-service
// pattern, extended here to the completions endpoint for the director and
// writer roles -- a half of this SDK the teacher itself never exercised.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIChat implements Chat over OpenAI chat completions.
type OpenAIChat struct {
	svc   chatService
	model string
}

// NewOpenAIChat constructs a chat adapter for the given model name.
func NewOpenAIChat(client *openai.Client, model string) *OpenAIChat {
	return &OpenAIChat{svc: &client.Chat.Completions, model: model}
}

func (c *OpenAIChat) ModelName() string { return c.model }

func (c *OpenAIChat) buildParams(req ChatRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			msgs = append(msgs, openai.UserMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.F(c.model),
		Messages: openai.F(msgs),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.F(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: openai.F(openai.ChatCompletionToolTypeFunction),
				Function: openai.F(openai.FunctionDefinitionParam{
					Name:        openai.F(t.Name),
					Description: openai.F(t.Description),
					Parameters:  openai.F(openai.FunctionParameters(t.Parameters)),
				}),
			}
		}
		params.Tools = openai.F(tools)
	}
	return params
}

// Complete issues a single (non-streamed) chat completion.
func (c *OpenAIChat) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	resp, err := c.svc.New(ctx, c.buildParams(req))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("provider: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("provider: chat completion returned no choices")
	}
	choice := resp.Choices[0]
	return ChatResponse{
		Text:      choice.Message.Content,
		ToolCalls: decodeToolCalls(choice.Message.ToolCalls),
	}, nil
}

// Stream issues a streamed chat completion, emitting text deltas as they
// arrive and tool calls on the final chunk once they're fully assembled.
func (c *OpenAIChat) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	stream := c.svc.NewStreaming(ctx, c.buildParams(req))
	out := make(chan StreamChunk)

	go func() {
		defer close(out)
		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta.Content
				if delta != "" {
					select {
					case out <- StreamChunk{TextDelta: delta}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return
		}
		var toolCalls []ToolCall
		if len(acc.Choices) > 0 {
			toolCalls = decodeToolCalls(acc.Choices[0].Message.ToolCalls)
		}
		select {
		case out <- StreamChunk{Done: true, ToolCalls: toolCalls}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func decodeToolCalls(calls []openai.ChatCompletionMessageToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]any{"_raw": tc.Function.Arguments}
		}
		out = append(out, ToolCall{Name: tc.Function.Name, Arguments: args})
	}
	return out
}
