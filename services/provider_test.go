package services

import (
	"errors"
	"testing"

	"github.com/mirrormate/backend/models"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Bare JSON unchanged",
			input:    `{"feedback": "ok"}`,
			expected: `{"feedback": "ok"}`,
		},
		{
			name:     "JSON fence stripped",
			input:    "```json\n{\"feedback\": \"ok\"}\n```",
			expected: `{"feedback": "ok"}`,
		},
		{
			name:     "Plain fence stripped",
			input:    "```\n{\"feedback\": \"ok\"}\n```",
			expected: `{"feedback": "ok"}`,
		},
		{
			name:     "Surrounding whitespace trimmed",
			input:    "  {\"feedback\": \"ok\"}\n",
			expected: `{"feedback": "ok"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMarkdownFences(tt.input); got != tt.expected {
				t.Errorf("stripMarkdownFences() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestDecodeReportPayload(t *testing.T) {
	payload, err := decodeReportPayload(validProviderJSON)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.ConfidenceScore != 78 {
		t.Errorf("ConfidenceScore = %d, expected 78", payload.ConfidenceScore)
	}
	if payload.FillerWords["um"] != 3 {
		t.Errorf("FillerWords[um] = %d, expected 3", payload.FillerWords["um"])
	}
	if len(payload.ToneTimeline) != 2 {
		t.Errorf("ToneTimeline length = %d, expected 2", len(payload.ToneTimeline))
	}
}

func TestDecodeReportPayloadFenced(t *testing.T) {
	payload, err := decodeReportPayload("```json\n" + validProviderJSON + "\n```")
	if err != nil {
		t.Fatalf("decode of fenced payload failed: %v", err)
	}
	if payload.Feedback == "" {
		t.Error("feedback should survive fence stripping")
	}
}

func TestDecodeReportPayloadMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "Not JSON", input: "the video shows a confident speaker"},
		{name: "Truncated JSON", input: `{"confidenceScore": 78, "feedb`},
		{name: "Missing feedback", input: `{"confidenceScore": 78, "emotionBreakdown": {"joy": 1.0}}`},
		{name: "Missing emotions", input: `{"confidenceScore": 78, "feedback": "good"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeReportPayload(tt.input)
			var malformed *models.MalformedProviderOutputError
			if !errors.As(err, &malformed) {
				t.Errorf("expected MalformedProviderOutputError, got %v", err)
			}
		})
	}
}

func TestDecodeReportPayloadClampsConfidence(t *testing.T) {
	tests := []struct {
		name     string
		score    string
		expected int
	}{
		{name: "Above ceiling", score: "140", expected: 100},
		{name: "Below floor", score: "-5", expected: 0},
		{name: "In range", score: "55", expected: 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"confidenceScore": ` + tt.score + `, "feedback": "good", "emotionBreakdown": {"joy": 1.0}}`
			payload, err := decodeReportPayload(raw)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if payload.ConfidenceScore != tt.expected {
				t.Errorf("ConfidenceScore = %d, expected %d", payload.ConfidenceScore, tt.expected)
			}
		})
	}
}

func TestDecodeReportPayloadDefaultsCollections(t *testing.T) {
	raw := `{"confidenceScore": 60, "feedback": "good", "emotionBreakdown": {"joy": 1.0}}`
	payload, err := decodeReportPayload(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.FillerWords == nil || payload.ImpressionTags == nil || payload.Strengths == nil ||
		payload.AreasForImprovement == nil || payload.PracticeExercises == nil ||
		payload.ToneTimeline == nil || payload.KeyMoments == nil {
		t.Error("absent collections should normalize to empty, not nil")
	}
}

func TestPayloadToReport(t *testing.T) {
	payload, err := decodeReportPayload(validProviderJSON)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	report := payload.toReport("session-1")
	if report.SessionID != "session-1" {
		t.Errorf("SessionID = %q", report.SessionID)
	}
	if report.GazeEyeContactPct != payload.BodyLanguageAnalysis.EyeContactPct {
		t.Error("gaze percentage should come from the body language sub-score")
	}
	if report.Feedback != payload.Feedback {
		t.Error("feedback should carry through unchanged")
	}
}
