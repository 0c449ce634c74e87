package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned when the audio contained no recognizable speech.
var ErrNoSpeech = errors.New("stt: no speech recognized")

type Provider interface {
	Transcribe(ctx context.Context, audio []byte, language string) (text string, confidence float64, err error)
	Close() error
}

// NormalizeLanguage maps short codes to BCP-47 tags.
func NormalizeLanguage(v, fallback string) string {
	switch v {
	case "":
		if fallback == "" {
			return "en-US"
		}
		return fallback
	case "en":
		return "en-US"
	case "id":
		return "id-ID"
	default:
		return v
	}
}
