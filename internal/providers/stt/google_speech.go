package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

// GoogleSpeech transcribes short voice notes with Cloud Speech-to-Text.
// Encoding and SampleRateHz apply to raw PCM uploads; containers that
// carry their own header are detected from the leading bytes.
type GoogleSpeech struct {
	c *speech.Client

	Encoding        speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz    int32
	DefaultLanguage string
}

func NewGoogleSpeech(ctx context.Context, defaultLanguage string) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &GoogleSpeech{
		c:               c,
		Encoding:        speechpb.RecognitionConfig_LINEAR16,
		SampleRateHz:    16000,
		DefaultLanguage: defaultLanguage,
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// audioFormat sniffs the container. A zero rate lets the service read it
// from the file header.
func (g *GoogleSpeech) audioFormat(audio []byte) (speechpb.RecognitionConfig_AudioEncoding, int32) {
	switch {
	case len(audio) >= 12 && bytes.Equal(audio[:4], []byte("RIFF")) && bytes.Equal(audio[8:12], []byte("WAVE")):
		return speechpb.RecognitionConfig_LINEAR16, 0
	case bytes.HasPrefix(audio, []byte("fLaC")):
		return speechpb.RecognitionConfig_FLAC, 0
	case bytes.HasPrefix(audio, []byte("OggS")):
		return speechpb.RecognitionConfig_OGG_OPUS, 48000
	case bytes.HasPrefix(audio, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return speechpb.RecognitionConfig_WEBM_OPUS, 48000
	default:
		return g.Encoding, g.SampleRateHz
	}
}

func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	enc, rate := g.audioFormat(audio)
	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   enc,
			SampleRateHertz:            rate,
			LanguageCode:               NormalizeLanguage(language, g.DefaultLanguage),
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", 0, err
	}
	return joinResults(resp.GetResults())
}

// joinResults concatenates the top alternative of every segment and averages
// their confidence.
func joinResults(results []*speechpb.SpeechRecognitionResult) (string, float64, error) {
	var (
		parts   []string
		confSum float64
	)
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 || strings.TrimSpace(alts[0].GetTranscript()) == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(alts[0].GetTranscript()))
		confSum += float64(alts[0].GetConfidence())
	}
	if len(parts) == 0 {
		return "", 0, ErrNoSpeech
	}
	return strings.Join(parts, " "), confSum / float64(len(parts)), nil
}
