package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Whisper transcribes recorded audio with the OpenAI transcription API.
type Whisper struct {
	client   *openai.Client
	language string
}

// NewWhisper creates a Whisper transcriber. language may be empty.
func NewWhisper(apiKey, language string) *Whisper {
	return &Whisper{client: openai.NewClient(apiKey), language: language}
}

// NewWhisperWithConfig allows a custom base URL, for example a local
// compatible server.
func NewWhisperWithConfig(cfg openai.ClientConfig, language string) *Whisper {
	return &Whisper{client: openai.NewClientWithConfig(cfg), language: language}
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) Transcribe(ctx context.Context, req Request) (string, error) {
	if req.Audio.Size() == 0 {
		return "", ErrEmptyTranscript
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(req.Audio.Data),
		FilePath: "dictation" + req.Audio.Extension(),
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
