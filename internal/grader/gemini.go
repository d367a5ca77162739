package grader

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"gradenerd/internal/extract"
	"gradenerd/internal/scanner"
)

// Gemini implements Client on the official genai SDK.
type Gemini struct {
	cli     *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGemini builds a Gemini grading client. timeout bounds each call
// when the caller's context carries no deadline of its own.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration, logger *zap.Logger) (*Gemini, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Gemini{cli: cli, model: model, timeout: timeout, logger: logger}, nil
}

// Grade sends the rubric and bundle to the model. Rate-limited calls
// get exactly one retry with backoff; every other failure is returned
// classified on the first attempt.
func (g *Gemini) Grade(ctx context.Context, rubric string, bundle *scanner.Bundle) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: payloadParts(rubric, bundle),
	}}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		Temperature:       genai.Ptr(float32(0)),
	}

	var lastErr *Error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			g.logger.Warn("rate limited, backing off",
				zap.String("submission", bundle.Submission),
				zap.Int("attempt", attempt))
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return "", classify(ctx.Err())
			}
		}

		resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			lastErr = classify(err)
			if lastErr.Kind == KindRateLimited {
				continue
			}
			return "", lastErr
		}

		text := responseText(resp)
		if strings.TrimSpace(text) == "" {
			return "", &Error{Kind: KindMalformed, Message: "model returned no text"}
		}
		return text, nil
	}
	return "", lastErr
}

// payloadParts serializes the rubric header followed by the bundle's
// items in bundle order. Text items become text parts, image items
// become inline-data parts.
func payloadParts(rubric string, bundle *scanner.Bundle) []*genai.Part {
	parts := []*genai.Part{{Text: userHeader(rubric)}}
	for _, it := range bundle.Items {
		switch it.Part.Kind {
		case extract.KindText:
			parts = append(parts, &genai.Part{Text: it.Part.Text})
		case extract.KindImage:
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: it.Part.MIME, Data: it.Part.Data},
			})
		}
	}
	return parts
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// classify maps transport and API failures onto the stable error kinds
// recorded in artifacts.
func classify(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Message: "grading call timed out", Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			return &Error{Kind: KindRateLimited, Message: apiErr.Message, Err: err}
		case 401, 403:
			return &Error{Kind: KindAuth, Message: apiErr.Message, Err: err}
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return &Error{Kind: KindRateLimited, Message: msg, Err: err}
	case strings.Contains(msg, "API key"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return &Error{Kind: KindAuth, Message: msg, Err: err}
	default:
		return &Error{Kind: KindMalformed, Message: msg, Err: err}
	}
}
