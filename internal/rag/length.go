package rag

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// LengthFunc measures chunk size in the splitter's units.
type LengthFunc func(string) int

func CharLength(s string) int { return utf8.RuneCountInString(s) }

var (
	bpeOnce sync.Once
	bpeEnc  *tiktoken.Tiktoken
	bpeErr  error
)

// TokenLength counts cl100k_base tokens using the embedded BPE ranks, so no
// network access is needed.
func TokenLength() (LengthFunc, error) {
	bpeOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		bpeEnc, bpeErr = tiktoken.GetEncoding("cl100k_base")
	})
	if bpeErr != nil {
		return nil, fmt.Errorf("load tokenizer: %w", bpeErr)
	}
	return func(s string) int {
		if s == "" {
			return 0
		}
		return len(bpeEnc.Encode(s, nil, nil))
	}, nil
}

// LengthByName resolves the CHUNK_LENGTH setting.
func LengthByName(name string) (LengthFunc, error) {
	switch name {
	case "", "chars":
		return CharLength, nil
	case "tokens":
		return TokenLength()
	default:
		return nil, fmt.Errorf("unknown chunk length unit %q", name)
	}
}
