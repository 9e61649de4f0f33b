package service

import (
	"context"
	"strings"

	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/metrics"
	"github.com/timmy/ecosync/internal/prompts"
)

// Rationale sentinels produced by the assessor.
const (
	RationaleOffline    = "offline-auto-verified"
	RationaleErrPrefix  = "gemini-error"
	verdictPrefixWindow = 10
)

// AssessmentFailure classifies why an assessment carries no usable verdict.
type AssessmentFailure string

const (
	AssessmentOK AssessmentFailure = ""
	// AssessmentOffline: offline mode or no credential configured.
	AssessmentOffline AssessmentFailure = "offline"
	// AssessmentServiceError: the model call failed.
	AssessmentServiceError AssessmentFailure = "service-error"
)

// Assessment is the outcome of an authenticity check.
type Assessment struct {
	Verdict   bool
	Rationale string
	Failure   AssessmentFailure
}

// Usable reports whether the verdict came from the model. An unusable
// assessment is routed to the secondary opinion, never read as a rejection.
func (a Assessment) Usable() bool {
	if a.Failure != AssessmentOK {
		return false
	}
	return a.Rationale != RationaleOffline && !strings.HasPrefix(a.Rationale, RationaleErrPrefix)
}

// AuthenticityAssessor decides whether a photo shows a person putting waste in a bin.
type AuthenticityAssessor interface {
	Assess(ctx context.Context, data []byte, mime string) Assessment
}

// ParseVerdict lower-cases and trims text, then accepts it when it contains
// "yes" and "no" does not occur in its first 10 characters.
func ParseVerdict(text string) (bool, string) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	head := normalized
	if len(head) > verdictPrefixWindow {
		head = head[:verdictPrefixWindow]
	}
	return strings.Contains(normalized, "yes") && !strings.Contains(head, "no"), normalized
}

// GeminiAssessor asks a Gemini model for a YES/NO verdict.
type GeminiAssessor struct {
	client  *geminiClient
	enabled bool
}

// NewGeminiAssessor creates an assessor. With offline set or no API key
// every assessment reports AssessmentOffline without a network call.
func NewGeminiAssessor(cfg *config.GeminiConfig, offline bool) *GeminiAssessor {
	return &GeminiAssessor{
		client:  newGeminiClient(cfg),
		enabled: cfg.Usable(offline),
	}
}

// Assess sends the rubric prompt and the image to the model.
func (a *GeminiAssessor) Assess(ctx context.Context, data []byte, mime string) Assessment {
	if !a.enabled {
		return Assessment{Rationale: RationaleOffline, Failure: AssessmentOffline}
	}
	if mime == "" {
		mime = "image/jpeg"
	}

	text, err := a.client.generateContent(ctx, prompts.AuthenticitySystemPrompt, mime, data, prompts.AuthenticityMaxTokens)
	if err != nil {
		metrics.Metrics.ExternalFailures.WithLabelValues("assessor").Inc()
		logger.FromContext(ctx).WithError(err).Warn("Authenticity check failed")
		return Assessment{Rationale: RationaleErrPrefix + ": " + err.Error(), Failure: AssessmentServiceError}
	}

	verdict, normalized := ParseVerdict(text)
	logger.FromContext(ctx).WithFields(logger.Fields{
		"verdict":  verdict,
		"response": normalized,
	}).Debug("Authenticity verdict")
	return Assessment{Verdict: verdict, Rationale: normalized}
}
