package services

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mirrormate/backend/models"
)

// AnalysisProvider is the external AI service that consumes a staged
// video and returns a structured behavioral analysis. Implementations
// report coarse progress through the observer as they move through
// their ingestion and generation phases.
type AnalysisProvider interface {
	Name() string
	AnalyzeVideo(ctx context.Context, video []byte, mimeType string, progress func(float64)) (*ReportPayload, error)
}

// ReportPayload mirrors the JSON object the provider prompt demands.
// Field names are the camelCase wire keys of the provider contract, not
// the flat snake_case keys of the persisted report.
type ReportPayload struct {
	DurationSec          int                         `json:"durationSec"`
	ConfidenceScore      int                         `json:"confidenceScore"`
	ImpressionTags       []string                    `json:"impressionTags"`
	FillerWords          map[string]int              `json:"fillerWords"`
	VocalAnalysis        models.VocalAnalysis        `json:"vocalAnalysis"`
	BodyLanguageAnalysis models.BodyLanguageAnalysis `json:"bodyLanguageAnalysis"`
	EmotionBreakdown     map[string]float64          `json:"emotionBreakdown"`
	ToneTimeline         []models.TonePoint          `json:"toneTimeline"`
	Strengths            []string                    `json:"strengths"`
	AreasForImprovement  []string                    `json:"areasForImprovement"`
	Feedback             string                      `json:"feedback"`
	PracticeExercises    []string                    `json:"practiceExercises"`
	KeyMoments           []models.KeyMoment          `json:"keyMoments"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// stripMarkdownFences removes a surrounding markdown code block from a
// provider response, if present.
func stripMarkdownFences(s string) string {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}

// decodeReportPayload parses a provider response into a validated
// payload. It never returns a partially valid result: any decode or
// validation failure yields MalformedProviderOutputError and the caller
// must not persist anything.
func decodeReportPayload(raw string) (*ReportPayload, error) {
	var payload ReportPayload
	if err := json.Unmarshal([]byte(stripMarkdownFences(raw)), &payload); err != nil {
		return nil, &models.MalformedProviderOutputError{Detail: err.Error()}
	}
	if payload.Feedback == "" {
		return nil, &models.MalformedProviderOutputError{Detail: "missing required field: feedback"}
	}
	if len(payload.EmotionBreakdown) == 0 {
		return nil, &models.MalformedProviderOutputError{Detail: "missing required field: emotionBreakdown"}
	}
	payload.normalize()
	return &payload, nil
}

// normalize clamps and defaults provider output: the model is asked for
// a score in [0,100] and emotions summing to 1.0, but drift is
// tolerated rather than rejected.
func (p *ReportPayload) normalize() {
	if p.ConfidenceScore < 0 {
		p.ConfidenceScore = 0
	}
	if p.ConfidenceScore > 100 {
		p.ConfidenceScore = 100
	}
	if p.FillerWords == nil {
		p.FillerWords = map[string]int{}
	}
	if p.ImpressionTags == nil {
		p.ImpressionTags = []string{}
	}
	if p.ToneTimeline == nil {
		p.ToneTimeline = []models.TonePoint{}
	}
	if p.Strengths == nil {
		p.Strengths = []string{}
	}
	if p.AreasForImprovement == nil {
		p.AreasForImprovement = []string{}
	}
	if p.PracticeExercises == nil {
		p.PracticeExercises = []string{}
	}
	if p.KeyMoments == nil {
		p.KeyMoments = []models.KeyMoment{}
	}
}

// toReport converts the provider payload into the persisted report row.
func (p *ReportPayload) toReport(sessionID string) *models.AnalysisReport {
	return &models.AnalysisReport{
		SessionID:            sessionID,
		DurationSec:          p.DurationSec,
		ConfidenceScore:      p.ConfidenceScore,
		ImpressionTags:       models.StringList(p.ImpressionTags),
		FillerWords:          models.FillerWordCounts(p.FillerWords),
		ToneTimeline:         models.ToneTimeline(p.ToneTimeline),
		EmotionBreakdown:     models.EmotionBreakdown(p.EmotionBreakdown),
		GazeEyeContactPct:    p.BodyLanguageAnalysis.EyeContactPct,
		Feedback:             p.Feedback,
		VocalAnalysis:        p.VocalAnalysis,
		BodyLanguageAnalysis: p.BodyLanguageAnalysis,
		Strengths:            models.StringList(p.Strengths),
		AreasForImprovement:  models.StringList(p.AreasForImprovement),
		PracticeExercises:    models.StringList(p.PracticeExercises),
		KeyMoments:           models.KeyMoments(p.KeyMoments),
	}
}

// analysisPromptSchema is the JSON shape both providers must return.
const analysisPromptSchema = `{
  "durationSec": <actual video duration in seconds>,
  "confidenceScore": <0-100, holistic score considering voice steadiness, posture, eye contact, gesture purposefulness, minimal filler words and vocal variety>,
  "impressionTags": [<4-5 tags from: "confident", "friendly", "nervous", "engaging", "professional", "approachable", "enthusiastic", "calm", "energetic", "articulate", "authentic", "polished", "relaxed", "poised", "warm", "natural", "credible", "composed", "dynamic", "persuasive">],
  "fillerWords": {"um": <count>, "uh": <count>, "like": <count>, "you know": <count>, "so": <count>, "actually": <count>, "basically": <count>, "literally": <count>},
  "vocalAnalysis": {"pace_words_per_min": <int>, "volume_consistency": <0.0-1.0>, "tonal_variety": <0.0-1.0>, "clarity": <0.0-1.0>, "pause_effectiveness": <0.0-1.0>},
  "bodyLanguageAnalysis": {"posture_score": <0.0-1.0>, "gesture_naturalness": <0.0-1.0>, "facial_expressiveness": <0.0-1.0>, "eye_contact_pct": <0.0-1.0>, "movement_purpose": <0.0-1.0>},
  "emotionBreakdown": {"joy": <0.0-1.0>, "neutral": <0.0-1.0>, "anxious": <0.0-1.0>, "engaged": <0.0-1.0>, "surprise": <0.0-1.0>},
  "toneTimeline": [{"t": 0, "energy": <0.0-1.0>, "confidence": <0.0-1.0>}, <continue every 5 seconds>],
  "strengths": [<3 specific strengths with evidence>],
  "areasForImprovement": [<3 specific areas with actionable advice>],
  "feedback": "<3-4 sentences: positive observation, specific metrics, biggest improvement opportunity, encouragement>",
  "practiceExercises": [<3 specific drills>],
  "keyMoments": [{"timestamp": <seconds>, "type": "strength"|"improvement", "description": "<what happened>"}]
}`

// videoAnalysisPrompt is the structured prompt sent alongside the video.
const videoAnalysisPrompt = `You are an expert communication coach with 20 years of experience analyzing presentations, interviews, and public speaking.

Watch the ENTIRE video start to finish. Count every filler word you hear. Track vocal patterns, body language, eye contact and energy throughout.

Provide your analysis in this EXACT JSON format:

` + analysisPromptSchema + `

CRITICAL RULES:
- Count filler words ACCURATELY
- Base durationSec on actual video observation
- emotionBreakdown MUST sum to 1.0
- Be SPECIFIC in feedback, use actual numbers and observations
- Make recommendations ACTIONABLE
- Return ONLY valid JSON - no markdown, no code blocks, no extra text

Now analyze the video:`

// transcriptAnalysisPrompt adapts the contract to a transcript-only
// provider path: visual sub-scores are estimated from delivery cues in
// the text.
const transcriptAnalysisPrompt = `You are an expert communication coach with 20 years of experience analyzing presentations, interviews, and public speaking.

Below is the verbatim transcript of a short self-recorded video. Count every filler word in it. Infer pacing, confidence and energy from the language; estimate visual sub-scores conservatively from delivery cues.

Provide your analysis in this EXACT JSON format:

` + analysisPromptSchema + `

CRITICAL RULES:
- Count filler words ACCURATELY from the transcript
- emotionBreakdown MUST sum to 1.0
- Be SPECIFIC in feedback, use actual numbers and observations
- Return ONLY valid JSON - no markdown, no code blocks, no extra text

Transcript:
`
