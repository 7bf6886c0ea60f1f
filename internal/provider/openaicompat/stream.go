package openaicompat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/tokens"
)

// StreamOptions configures StreamChat.
type StreamOptions struct {
	Client openai.Client
	Params openai.ChatCompletionNewParams
	Model  string
	// Query is the prompt text counted as input tokens.
	Query   string
	Conv    string
	Timeout time.Duration
	Counter *tokens.Counter
	Logger  *slog.Logger
}

func encode(event string, data any) domain.ChatFrame {
	b, _ := json.Marshal(data)
	return domain.ChatFrame{Event: event, Data: b}
}

// StreamChat relays a streaming chat completion as gateway chat frames:
// start, one token frame per delta, then end with token counts. Upstream
// failures become a final error frame.
func StreamChat(ctx context.Context, o StreamOptions) <-chan domain.ChatFrame {
	conv := o.Conv
	if conv == "" {
		conv = uuid.NewString()
	}
	out := make(chan domain.ChatFrame)
	go func() {
		defer close(out)
		sctx, cancel := ctx, context.CancelFunc(func() {})
		if o.Timeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, o.Timeout)
		}
		defer cancel()

		send := func(f domain.ChatFrame) bool {
			select {
			case out <- f:
				return true
			case <-sctx.Done():
				return false
			}
		}

		if !send(encode(domain.ChatEventStart, map[string]string{"conversation_id": conv})) {
			return
		}

		stream := o.Client.Chat.Completions.NewStreaming(sctx, o.Params)
		defer stream.Close()

		var answer strings.Builder
		truncated := false
		id := 0
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.FinishReason == "length" {
				truncated = true
			}
			if choice.Delta.Content == "" {
				continue
			}
			answer.WriteString(choice.Delta.Content)
			if !send(encode(domain.ChatEventToken, map[string]any{
				"id":    id,
				"role":  "inference",
				"token": choice.Delta.Content,
			})) {
				return
			}
			id++
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			o.Logger.WarnContext(ctx, "chat stream failed", slog.String("error", err.Error()))
			mapped := MapChatError(sctx, o.Model, err)
			send(domain.ErrorFrame("An error occurred while streaming the chat response.", mapped.Error()))
			return
		}

		send(encode(domain.ChatEventEnd, map[string]any{
			"referenced_documents": []domain.ReferencedDocument{},
			"truncated":            truncated,
			"input_tokens":         o.Counter.Count(o.Model, o.Query),
			"output_tokens":        o.Counter.Count(o.Model, answer.String()),
		}))
	}()
	return out
}
