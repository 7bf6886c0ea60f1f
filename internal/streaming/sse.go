// Package streaming reads server-sent event streams from chat backends and
// rewrites their frames for clients.
package streaming

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

const (
	initialBufferSize = 64 * 1024
	maxFrameSize      = 1024 * 1024
)

// Reader yields the data payload of each SSE event.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, initialBufferSize), maxFrameSize)
	return &Reader{scanner: s}
}

// Next returns the next event's data, joining multi-line data fields with
// "\n". It returns io.EOF when the stream ends.
func (r *Reader) Next() ([]byte, error) {
	var data [][]byte
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		switch {
		case len(line) == 0:
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
		case line[0] == ':':
			// comment / keep-alive
		case bytes.HasPrefix(line, []byte("data:")):
			v := bytes.TrimPrefix(line, []byte("data:"))
			v = bytes.TrimPrefix(v, []byte(" "))
			data = append(data, append([]byte(nil), v...))
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if len(data) > 0 {
		return bytes.Join(data, []byte("\n")), nil
	}
	return nil, io.EOF
}

// Decode parses one frame payload.
func Decode(payload []byte) (domain.ChatFrame, error) {
	var f domain.ChatFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return domain.ChatFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return domain.ChatFrame{}, errors.New("decode frame: missing event")
	}
	return f, nil
}

// Redact hides tool activity unless returnToolCall is set. tool_call and
// tool_result frames become empty token frames that keep the original id
// and carry the untouched frame under "original".
func Redact(f domain.ChatFrame, returnToolCall bool) domain.ChatFrame {
	if returnToolCall || (f.Event != domain.ChatEventToolCall && f.Event != domain.ChatEventToolResult) {
		return f
	}
	var data struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal(f.Data, &data)
	id := data.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	redacted, _ := json.Marshal(struct {
		ID    json.RawMessage `json:"id"`
		Token string          `json:"token"`
	}{ID: id, Token: ""})
	original, _ := json.Marshal(f)
	return domain.ChatFrame{Event: domain.ChatEventToken, Data: redacted, Original: original}
}

// Pump decodes frames from body onto out until the stream ends, ctx is
// cancelled or a read fails. Failures are delivered as a final error frame.
// Pump closes body and out.
func Pump(ctx context.Context, body io.ReadCloser, out chan<- domain.ChatFrame, returnToolCall bool, logger *slog.Logger) {
	defer close(out)
	defer body.Close()

	send := func(f domain.ChatFrame) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}

	r := NewReader(body)
	for {
		payload, err := r.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnContext(ctx, "chat stream read failed", slog.String("error", err.Error()))
			send(domain.ErrorFrame("An error occurred while reading the chat stream.", err.Error()))
			return
		}
		f, err := Decode(payload)
		if err != nil {
			logger.WarnContext(ctx, "skipping malformed chat frame", slog.String("error", err.Error()))
			continue
		}
		if !send(Redact(f, returnToolCall)) {
			return
		}
	}
}
