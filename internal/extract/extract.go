// Package extract turns individual submission files into multimodal
// content parts for the grading payload.
//
// Extraction is keyed by file extension. Text-like files yield one text
// part, images yield one image part, and notebooks yield their code cells
// plus any images embedded in cell outputs. Extensions with no registered
// extractor are skipped by the scanner without error; registered formats
// that cannot be decoded here (PDF, DOCX, PPTX) report a typed
// Unsupported error so the failure is visible in the bundle.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Kind distinguishes the two payload shapes a part can carry.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Part is one extracted content unit.
type Part struct {
	Kind Kind
	Text string // set when Kind == KindText
	Data []byte // set when Kind == KindImage
	MIME string // set when Kind == KindImage
}

// ErrorKind classifies extraction failures.
type ErrorKind string

const (
	ErrUnsupported ErrorKind = "unsupported"
	ErrCorrupt     ErrorKind = "corrupt"
	ErrIO          ErrorKind = "io"
)

// Error is a per-file extraction failure. It never aborts a scan; the
// scanner records it in the bundle and moves on.
type Error struct {
	Kind    ErrorKind
	Path    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %s: %s", e.Path, e.Kind, e.Message)
}

var textExtensions = map[string]bool{
	".py": true, ".txt": true, ".md": true, ".json": true, ".xml": true,
	".html": true, ".htm": true, ".csv": true, ".yaml": true, ".yml": true,
	".go": true, ".java": true, ".c": true, ".cpp": true, ".h": true,
	".js": true, ".ts": true, ".sh": true, ".sql": true, ".r": true,
}

var imageMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// binaryDocExtensions are formats the pipeline recognizes but has no
// decoder wired for. They surface as Unsupported rather than vanishing
// silently, so a missing decoder shows up in the bundle's error list.
var binaryDocExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".pptx": true,
}

// Supported reports whether ext has a registered extractor (including
// the Unsupported-reporting stubs for binary document formats).
func Supported(ext string) bool {
	ext = strings.ToLower(ext)
	return textExtensions[ext] || imageMIME[ext] != "" || ext == ".ipynb" || binaryDocExtensions[ext]
}

// File extracts the content parts of a single file. A nil part slice with
// a nil error means the file was readable but had nothing worth bundling
// (for example an empty text file).
func File(path string) ([]Part, *Error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case textExtensions[ext]:
		return textParts(path)
	case imageMIME[ext] != "":
		return imageParts(path, imageMIME[ext])
	case ext == ".ipynb":
		return notebookParts(path)
	case binaryDocExtensions[ext]:
		return nil, &Error{
			Kind:    ErrUnsupported,
			Path:    path,
			Message: fmt.Sprintf("no decoder wired for %s", ext),
		}
	default:
		return nil, &Error{
			Kind:    ErrUnsupported,
			Path:    path,
			Message: fmt.Sprintf("unrecognized extension %s", ext),
		}
	}
}

func textParts(path string) ([]Part, *Error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrIO, Path: path, Message: err.Error()}
	}
	text := decodeText(raw)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []Part{{Kind: KindText, Text: text}}, nil
}

func imageParts(path, mime string) ([]Part, *Error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrIO, Path: path, Message: err.Error()}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return []Part{{Kind: KindImage, Data: raw, MIME: mime}}, nil
}

// decodeText accepts UTF-8 (stripping a BOM) and falls back to
// Windows-1252 for anything else, so legacy-encoded submissions still
// produce readable context instead of an error. Windows-1252 covers
// Latin-1 and additionally renders the 0x80-0x9F range as the
// punctuation word processors actually emit there.
func decodeText(raw []byte) string {
	raw = stripBOM(raw)
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err == nil {
		return string(decoded)
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

func stripBOM(raw []byte) []byte {
	if len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF {
		return raw[3:]
	}
	return raw
}
