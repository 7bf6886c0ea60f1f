package domain

import (
	"bytes"
	"encoding/json"
)

// Streaming chat event names.
const (
	ChatEventStart      = "start"
	ChatEventToken      = "token"
	ChatEventToolCall   = "tool_call"
	ChatEventToolResult = "tool_result"
	ChatEventEnd        = "end"
	ChatEventError      = "error"
)

// ChatFrame is one server-sent event of a streaming chat turn.
type ChatFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	// Original holds the upstream frame when the gateway rewrote it.
	Original json.RawMessage `json:"original,omitempty"`
}

// Encode renders the frame as an SSE "data:" record terminated by a blank line.
func (f ChatFrame) Encode() []byte {
	payload, err := json.Marshal(f)
	if err != nil {
		payload = []byte(`{"event":"error","data":{"response":"failed to encode frame"}}`)
	}
	var buf bytes.Buffer
	buf.Grow(len(payload) + 8)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// ErrorFrame builds an error event carrying a human readable response.
func ErrorFrame(response, cause string) ChatFrame {
	data, _ := json.Marshal(map[string]string{"response": response, "cause": cause})
	return ChatFrame{Event: ChatEventError, Data: data}
}
