package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

const (
	openaiChatModel      = openaigo.ChatModelGPT4o
	openaiRequestTimeout = 90 * time.Second
)

// OpenAIProvider analyzes videos in two steps: Whisper transcribes the
// artifact's audio track, then a chat completion analyzes the
// transcript against the report JSON schema. It sees no visuals, so
// visual sub-scores are model estimates from delivery cues.
type OpenAIProvider struct {
	client openaigo.Client
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	client := openaigo.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(2),
		option.WithRequestTimeout(openaiRequestTimeout),
	)
	return &OpenAIProvider{client: client}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) AnalyzeVideo(ctx context.Context, video []byte, mimeType string, progress func(float64)) (*ReportPayload, error) {
	slog.Info("Calling Whisper for audio transcription", "size", len(video))

	transcription, err := o.client.Audio.Transcriptions.New(ctx, openaigo.AudioTranscriptionNewParams{
		Model: openaigo.AudioModelWhisper1,
		File:  openaigo.File(bytes.NewReader(video), "video.mp4", mimeType),
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	slog.Info("Transcription complete", "transcript_length", len(transcription.Text))
	progress(0.5)

	completion, err := o.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaiChatModel,
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage("You are an expert communication coach. Respond with a single JSON object only."),
			openaigo.UserMessage(transcriptAnalysisPrompt + transcription.Text),
		},
		Temperature: param.NewOpt(0.4),
		MaxTokens:   param.NewOpt(int64(4096)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai analysis failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai analysis returned no choices")
	}

	payload, err := decodeReportPayload(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	slog.Info("OpenAI analysis parsed", "confidence_score", payload.ConfidenceScore)
	return payload, nil
}
