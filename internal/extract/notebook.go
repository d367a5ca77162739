package extract

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"
)

// notebookFile mirrors the nbformat v4 JSON layout, reduced to the
// fields grading needs: code cell sources and image outputs.
type notebookFile struct {
	Cells []notebookCell `json:"cells"`
}

type notebookCell struct {
	CellType string           `json:"cell_type"`
	Source   multiline        `json:"source"`
	Outputs  []notebookOutput `json:"outputs"`
}

type notebookOutput struct {
	OutputType string               `json:"output_type"`
	Data       map[string]multiline `json:"data"`
}

// multiline accepts both the string and []string encodings nbformat
// allows for cell sources and output data.
type multiline string

func (m *multiline) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = multiline(s)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(b, &lines); err != nil {
		return err
	}
	*m = multiline(strings.Join(lines, ""))
	return nil
}

var notebookImageMIMEs = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// notebookParts extracts code cells as one text part and embedded
// display images as image parts. Markdown and raw cells are excluded so
// the grader sees only the student's code and its rendered outputs.
func notebookParts(path string) ([]Part, *Error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrIO, Path: path, Message: err.Error()}
	}

	var nb notebookFile
	if err := json.Unmarshal(raw, &nb); err != nil {
		return nil, &Error{Kind: ErrCorrupt, Path: path, Message: "not a valid notebook: " + err.Error()}
	}

	var code []string
	var images []Part
	for _, cell := range nb.Cells {
		if cell.CellType != "code" {
			continue
		}
		if src := strings.TrimRight(string(cell.Source), "\n"); strings.TrimSpace(src) != "" {
			code = append(code, src)
		}
		for _, out := range cell.Outputs {
			if out.OutputType != "display_data" && out.OutputType != "execute_result" {
				continue
			}
			for _, mime := range notebookImageMIMEs {
				b64, ok := out.Data[mime]
				if !ok {
					continue
				}
				data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b64)))
				if err != nil || len(data) == 0 {
					continue
				}
				images = append(images, Part{Kind: KindImage, Data: data, MIME: mime})
			}
		}
	}

	var parts []Part
	if len(code) > 0 {
		parts = append(parts, Part{Kind: KindText, Text: strings.Join(code, "\n\n")})
	}
	parts = append(parts, images...)
	return parts, nil
}
