// Package artifact defines the feedback artifact contract: where a
// submission's feedback file lives, the stable machine-parseable
// markers that distinguish graded, failed, and ungraded outcomes from
// file contents alone, and the atomic write used to persist them.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Class is the outcome encoded in an artifact's leading line.
type Class string

const (
	ClassGraded   Class = "graded"
	ClassFailed   Class = "failed"
	ClassUngraded Class = "ungraded"
)

const (
	errorMarkerPrefix = "<!-- GRADING-ERROR"
	// UngradedMarker is the full leading line of an artifact for a
	// submission with no gradable content.
	UngradedMarker = "<!-- GRADING-UNGRADED reason=no_content -->"
)

// Path returns the artifact location for a submission folder name.
func Path(outputRoot, submission string) string {
	return filepath.Join(outputRoot, submission+"_feedback.md")
}

// ErrorMarker renders the leading line of a failure artifact.
func ErrorMarker(kind, stage string) string {
	return fmt.Sprintf("%s kind=%s stage=%s -->", errorMarkerPrefix, kind, stage)
}

// Classify reads the outcome from the artifact's first line. Anything
// without a recognized marker is a successful grading.
func Classify(content string) Class {
	first, _, _ := strings.Cut(strings.TrimLeft(content, "\n"), "\n")
	first = strings.TrimSpace(first)
	switch {
	case strings.HasPrefix(first, errorMarkerPrefix):
		return ClassFailed
	case first == UngradedMarker:
		return ClassUngraded
	default:
		return ClassGraded
	}
}

var errorMarkerRe = regexp.MustCompile(`^<!-- GRADING-ERROR kind=(\S+) stage=(\S+) -->$`)

// ParseErrorMarker extracts kind and stage from a failure artifact's
// first line.
func ParseErrorMarker(content string) (kind, stage string, ok bool) {
	first, _, _ := strings.Cut(strings.TrimLeft(content, "\n"), "\n")
	m := errorMarkerRe.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// WriteAtomic writes data to path via a temp file in the same
// directory plus rename, so readers never observe a partial artifact.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".feedback-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
