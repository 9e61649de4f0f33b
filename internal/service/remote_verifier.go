package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/ecosync/internal/config"
	"github.com/timmy/ecosync/internal/domain"
	"github.com/timmy/ecosync/internal/logger"
	"github.com/timmy/ecosync/internal/metrics"
)

// NoteRemoteUnavailable is the review note when the secondary opinion
// could not be obtained.
const NoteRemoteUnavailable = "Pending manual review (AI service unavailable)"

// RemoteFailure classifies why no remote decision was obtained.
type RemoteFailure string

const (
	RemoteOK            RemoteFailure = ""
	RemoteNotConfigured RemoteFailure = "not-configured"
	RemoteUnavailable   RemoteFailure = "unavailable"
)

// VerifyRequest is the body sent to the verification microservice.
type VerifyRequest struct {
	UserID      string `json:"user_id"`
	PostID      string `json:"post_id"`
	MediaBase64 string `json:"media_base64"`
}

// VerifyResponse is the decision returned by the verification microservice.
type VerifyResponse struct {
	Status         domain.PostStatus `json:"status"`
	Notes          string            `json:"notes"`
	CreditsAwarded int               `json:"credits_awarded"`
}

// RemoteDecision is the result of asking the microservice.
type RemoteDecision struct {
	Response VerifyResponse
	Failure  RemoteFailure
	Cause    string
}

// RemoteVerifier asks the verification microservice for a second opinion.
type RemoteVerifier interface {
	Verify(ctx context.Context, userID, postID string, data []byte) RemoteDecision
}

// HTTPRemoteVerifier calls POST {url}/ai/verify.
type HTTPRemoteVerifier struct {
	client     *resty.Client
	configured bool
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPRemoteVerifier creates a client from cfg. An empty URL yields a
// verifier that always reports RemoteNotConfigured.
func NewHTTPRemoteVerifier(cfg *config.AIServiceConfig) *HTTPRemoteVerifier {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.URL, "/"))
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-AI-KEY", cfg.APIKey)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.SetTimeout(timeout)

	return &HTTPRemoteVerifier{
		client:     client,
		configured: cfg.URL != "",
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Verify posts the media and returns the service's decision. Every failure
// is retried with a constant delay; when attempts run out the decision is
// a synthesized pending with NoteRemoteUnavailable.
func (v *HTTPRemoteVerifier) Verify(ctx context.Context, userID, postID string, data []byte) RemoteDecision {
	if !v.configured {
		return RemoteDecision{Failure: RemoteNotConfigured}
	}

	req := VerifyRequest{
		UserID:      userID,
		PostID:      postID,
		MediaBase64: base64.StdEncoding.EncodeToString(data),
	}

	var out VerifyResponse
	attempt := 0
	err := callWithRetry(ctx, v.maxRetries, v.retryDelay, func(ctx context.Context) error {
		attempt++
		out = VerifyResponse{}
		resp, err := v.client.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post("/ai/verify")
		if err != nil {
			return retryable(fmt.Errorf("ai service request failed: %w", err))
		}
		if resp.StatusCode() != http.StatusOK {
			return retryable(fmt.Errorf("ai service returned status %d: %s", resp.StatusCode(), truncate(resp.String(), 200)))
		}
		if !out.Status.Valid() {
			return retryable(fmt.Errorf("ai service returned invalid status %q", out.Status))
		}
		return nil
	})
	if err != nil {
		metrics.Metrics.ExternalFailures.WithLabelValues("ai_service").Inc()
		logger.FromContext(ctx).WithError(err).WithField("attempts", attempt).Warn("AI service unavailable")
		return RemoteDecision{
			Response: VerifyResponse{Status: domain.PostStatusPending, Notes: NoteRemoteUnavailable},
			Failure:  RemoteUnavailable,
			Cause:    err.Error(),
		}
	}
	if out.CreditsAwarded < 0 {
		out.CreditsAwarded = 0
	}
	return RemoteDecision{Response: out}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
