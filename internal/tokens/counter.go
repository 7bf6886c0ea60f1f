// Package tokens counts tokens for chat accounting. Counts use tiktoken
// encodings; models without a published tokenizer (llama, granite, mistral)
// are approximated with cl100k_base.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with cached tiktoken codecs. The zero value is not
// usable; call NewCounter.
type Counter struct {
	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// encodingFor picks the encoding used to approximate model.
func encodingFor(model string) tokenizer.Encoding {
	m := strings.ToLower(model)
	for _, prefix := range []string{"gpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(m, prefix) {
			return tokenizer.O200kBase
		}
	}
	return tokenizer.Cl100kBase
}

func (c *Counter) codec(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	c.mu.RLock()
	codec, ok := c.codecs[enc]
	c.mu.RUnlock()
	if ok {
		return codec, nil
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.codecs[enc] = codec
	c.mu.Unlock()
	return codec, nil
}

// Count returns the number of tokens in text for model. It falls back to a
// four-characters-per-token estimate when no codec is available.
func (c *Counter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	codec, err := c.codec(encodingFor(model))
	if err == nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return Estimate(text)
}

// Estimate approximates a token count from the text length.
func Estimate(text string) int {
	return (len(text) + 3) / 4
}
