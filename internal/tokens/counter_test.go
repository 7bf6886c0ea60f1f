package tokens

import (
	"testing"

	"github.com/tiktoken-go/tokenizer"
)

func TestCounter_Count(t *testing.T) {
	c := NewCounter()

	tests := []struct {
		name      string
		model     string
		text      string
		minTokens int
		maxTokens int
	}{
		{"empty", "granite-3-8b", "", 0, 0},
		{"short", "llama3", "Hello, how are you?", 4, 8},
		{"yaml", "granite-3-8b", "- name: Install nginx\n  ansible.builtin.package:\n    name: nginx\n", 10, 30},
		{"o200k model", "gpt-4o-mini", "Hello, how are you?", 4, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Count(tt.model, tt.text)
			if got < tt.minTokens || got > tt.maxTokens {
				t.Errorf("Count() = %d, want between %d and %d", got, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestEncodingFor(t *testing.T) {
	tests := map[string]tokenizer.Encoding{
		"gpt-4o":      tokenizer.O200kBase,
		"GPT-5-mini":  tokenizer.O200kBase,
		"o3-mini":     tokenizer.O200kBase,
		"granite-3b":  tokenizer.Cl100kBase,
		"llama3.1:8b": tokenizer.Cl100kBase,
	}
	for model, want := range tests {
		if got := encodingFor(model); got != want {
			t.Errorf("encodingFor(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestCounter_CachesCodec(t *testing.T) {
	c := NewCounter()
	c.Count("granite", "one")
	c.Count("llama", "two")
	if len(c.codecs) != 1 {
		t.Errorf("cached codecs = %d, want 1", len(c.codecs))
	}
}

func TestEstimate(t *testing.T) {
	if got := Estimate("abcdefgh"); got != 2 {
		t.Errorf("Estimate() = %d, want 2", got)
	}
	if got := Estimate("abcde"); got != 2 {
		t.Errorf("Estimate() = %d, want 2", got)
	}
}
