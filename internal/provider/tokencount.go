package provider

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// EstimateTokens counts text using the cl100k_base encoding tiktoken-go
// ships, a reasonable approximation across the OpenAI-compatible
// vendors even when their true tokenizer differs slightly — matching
// spec's Provider.get_token_count contract without a per-vendor
// tokenizer table.
func EstimateTokens(text string) int {
	enc := getEncoding()
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func getEncoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}
