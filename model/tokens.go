package model

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens counts tokens with the gpt-3.5-turbo encoding. The BPE ranks are
// fetched on first use; when that fails the word count is returned instead.
func CountTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return len(strings.Fields(text))
	}
	return len(enc.Encode(text, nil, nil))
}
