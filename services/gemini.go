package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/mirrormate/backend/models"
)

const (
	GeminiModelName = "gemini-2.5-flash"

	// Gemini processes uploaded videos asynchronously; poll a bounded
	// number of times with a fixed delay before giving up.
	geminiFileReadyAttempts = 10
	geminiFileReadyDelay    = 2 * time.Second
)

// GeminiProvider analyzes videos with the Gemini API: the artifact is
// uploaded through the Files API, polled until ACTIVE, then passed to a
// generation call whose prompt demands the report JSON schema.
type GeminiProvider struct {
	genaiClient *genai.Client
}

func NewGeminiProvider(apiKey string) (*GeminiProvider, error) {
	genaiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		slog.Error("Failed to create genai client", "error", err)
		return nil, err
	}
	return &GeminiProvider{genaiClient: genaiClient}, nil
}

func (g *GeminiProvider) Name() string { return "gemini" }

// AnalyzeVideo uploads the video, waits for provider-side processing,
// generates the analysis and returns the decoded payload. The remote
// copy is deleted best-effort before returning.
func (g *GeminiProvider) AnalyzeVideo(ctx context.Context, video []byte, mimeType string, progress func(float64)) (*ReportPayload, error) {
	slog.Info("Uploading video to Gemini Files API", "size", len(video))

	file, err := g.genaiClient.Files.Upload(ctx, bytes.NewReader(video), &genai.UploadFileConfig{
		MIMEType: mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini upload failed: %w", err)
	}
	defer g.deleteFile(file.Name)

	progress(0.4)

	if err := g.waitForFileReady(ctx, file); err != nil {
		return nil, err
	}

	progress(0.6)

	slog.Info("Calling Gemini for video analysis", "model", GeminiModelName, "file", file.Name)

	parts := []*genai.Part{
		genai.NewPartFromText(videoAnalysisPrompt),
		genai.NewPartFromURI(file.URI, mimeType),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	// Low temperature for consistent, factual analysis.
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(0.4)),
		TopP:            genai.Ptr(float32(0.95)),
		MaxOutputTokens: 4096,
	}

	result, err := g.genaiClient.Models.GenerateContent(ctx, GeminiModelName, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	payload, err := decodeReportPayload(result.Text())
	if err != nil {
		return nil, err
	}

	slog.Info("Gemini analysis parsed", "confidence_score", payload.ConfidenceScore)
	return payload, nil
}

// waitForFileReady polls the uploaded file until Gemini reports it
// ACTIVE, within the bounded retry budget.
func (g *GeminiProvider) waitForFileReady(ctx context.Context, file *genai.File) error {
	current := file
	for attempt := 0; attempt < geminiFileReadyAttempts; attempt++ {
		if current.State == genai.FileStateActive {
			slog.Info("Gemini video processed and ready", "file", current.Name, "attempts", attempt)
			return nil
		}
		if current.State == genai.FileStateFailed {
			return fmt.Errorf("gemini rejected uploaded video %s", current.Name)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(geminiFileReadyDelay):
		}

		refreshed, err := g.genaiClient.Files.Get(ctx, current.Name, nil)
		if err != nil {
			slog.Warn("Gemini file status check failed", "error", err, "file", current.Name)
			continue
		}
		current = refreshed
	}
	return &models.ProviderTimeoutError{Provider: "gemini", Attempts: geminiFileReadyAttempts}
}

// deleteFile removes the provider's copy of the video. Failure is
// logged only; a leaked remote file is an operational concern, not a
// correctness one.
func (g *GeminiProvider) deleteFile(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := g.genaiClient.Files.Delete(ctx, name, nil); err != nil {
		slog.Error("Failed to delete Gemini file", "error", err, "file", name)
		return
	}
	slog.Info("Gemini file cleaned up", "file", name)
}
