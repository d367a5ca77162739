// Package grader holds the grading client boundary: the interface the
// orchestrator calls, the Gemini-backed implementation, and the score
// guardrails applied to model output.
package grader

import (
	"context"
	"fmt"

	"gradenerd/internal/scanner"
)

// ErrorKind classifies grading failures so the orchestrator can record
// a stable, machine-readable cause in the artifact.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindAuth        ErrorKind = "auth"
	KindMalformed   ErrorKind = "malformed"
)

// Error is a classified grading failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("grading failed (%s): %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Client grades one submission bundle against the rubric. The rubric
// text is passed through verbatim and bundle item order is preserved in
// the request payload. Failures come back as *Error.
type Client interface {
	Grade(ctx context.Context, rubric string, bundle *scanner.Bundle) (string, error)
}

const systemPrompt = "You are an expert grader. Grade the student's assignment according to the " +
	"grading criteria and instructions provided. Be thorough, concise, fair, and constructive. " +
	"Provide clear feedback and a grade/score if the instructions ask for one. " +
	"When images are included, consider them as part of the submission " +
	"(e.g. diagrams, screenshots)."

// userHeader frames the rubric and introduces the submission content
// that follows it in the payload.
func userHeader(rubric string) string {
	return "## Grading Instructions\n\n" + rubric + "\n\n---\n\n## Student Submission (all files combined)\n\n"
}
