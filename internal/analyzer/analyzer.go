// Package analyzer reads a run's feedback artifacts back off disk and
// computes score statistics. It works from file contents alone, using
// the artifact markers to tell graded, failed, and ungraded apart.
package analyzer

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gradenerd/internal/artifact"
)

const feedbackSuffix = "_feedback.md"

// Score is one graded submission's parsed total.
type Score struct {
	Submission string
	Score      float64
	OutOf      float64
}

// Failure is one failed submission with its recorded cause.
type Failure struct {
	Submission string
	Kind       string
	Stage      string
}

// Stats aggregates the parsed scores of a run.
type Stats struct {
	Mean         float64
	MeanPct      float64
	Median       float64
	Min          float64
	Max          float64
	StdDev       float64
	OutOf        float64 // 0 when submissions were graded on mixed scales
	Distribution []DistEntry
}

// DistEntry is one score bucket, highest score first.
type DistEntry struct {
	Label string
	Count int
}

// Report is the full analysis of one output directory.
type Report struct {
	OutputDir string
	Total     int
	Graded    int
	Failed    int
	Ungraded  int
	Scores    []Score
	Failures  []Failure
	Stats     *Stats // nil when nothing parseable was graded
}

var scoreRe = regexp.MustCompile(`(\d+(?:\.\d+)?)/(\d+(?:\.\d+)?)`)

// Analyze scans outputDir for feedback artifacts and builds the report.
// A missing or empty directory yields an empty report, not an error.
func Analyze(outputDir string) (*Report, error) {
	rep := &Report{OutputDir: outputDir}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return rep, nil
		}
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), feedbackSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		submission := strings.TrimSuffix(name, feedbackSuffix)
		raw, err := os.ReadFile(filepath.Join(outputDir, name))
		if err != nil {
			continue
		}
		content := string(raw)
		rep.Total++

		switch artifact.Classify(content) {
		case artifact.ClassFailed:
			rep.Failed++
			kind, stage, _ := artifact.ParseErrorMarker(content)
			rep.Failures = append(rep.Failures, Failure{Submission: submission, Kind: kind, Stage: stage})
		case artifact.ClassUngraded:
			rep.Ungraded++
		default:
			rep.Graded++
			if score, outOf, ok := parseScore(content); ok {
				rep.Scores = append(rep.Scores, Score{Submission: submission, Score: score, OutOf: outOf})
			}
		}
	}

	rep.Stats = computeStats(rep.Scores)
	return rep, nil
}

// parseScore finds the total: the first x/y on a line mentioning
// "total", else the last x/y anywhere in the file.
func parseScore(text string) (float64, float64, bool) {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(strings.ToLower(line), "total") {
			continue
		}
		if m := scoreRe.FindStringSubmatch(line); m != nil {
			return toFloat(m[1]), toFloat(m[2]), toFloat(m[2]) > 0
		}
	}
	all := scoreRe.FindAllStringSubmatch(text, -1)
	if len(all) > 0 {
		m := all[len(all)-1]
		return toFloat(m[1]), toFloat(m[2]), toFloat(m[2]) > 0
	}
	return 0, 0, false
}

func computeStats(scores []Score) *Stats {
	if len(scores) == 0 {
		return nil
	}

	raw := make([]float64, len(scores))
	var pctSum float64
	outOf := scores[0].OutOf
	mixed := false
	for i, s := range scores {
		raw[i] = s.Score
		pctSum += 100 * s.Score / s.OutOf
		if s.OutOf != outOf {
			mixed = true
		}
	}
	if mixed {
		outOf = 0
	}

	sorted := append([]float64(nil), raw...)
	sort.Float64s(sorted)

	st := &Stats{
		Mean:    round2(mean(raw)),
		MeanPct: math.Round(pctSum/float64(len(raw))*10) / 10,
		Median:  round2(median(sorted)),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		OutOf:   outOf,
	}
	if len(raw) > 1 {
		st.StdDev = round2(stdDev(raw))
	}

	buckets := map[string]int{}
	for _, s := range scores {
		buckets[fmt.Sprintf("%g/%g", s.Score, s.OutOf)]++
	}
	for label, count := range buckets {
		st.Distribution = append(st.Distribution, DistEntry{Label: label, Count: count})
	}
	sort.Slice(st.Distribution, func(i, j int) bool {
		return st.Distribution[i].Label > st.Distribution[j].Label
	})
	return st
}

// Markdown renders the report in the layout graders paste into course
// notes: a summary table, the score distribution, and the failures.
func (r *Report) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Grading Statistics\n\n")
	sb.WriteString(fmt.Sprintf("**Output directory:** `%s`\n\n", r.OutputDir))

	if r.Stats == nil {
		sb.WriteString("No graded feedback files found.\n")
		if r.Failed > 0 {
			sb.WriteString(fmt.Sprintf("Failed submissions: %d\n", r.Failed))
		}
		if r.Ungraded > 0 {
			sb.WriteString(fmt.Sprintf("Ungraded submissions: %d\n", r.Ungraded))
		}
		return sb.String()
	}

	s := r.Stats
	outOf := "?"
	if s.OutOf > 0 {
		outOf = trimFloat(s.OutOf)
	}
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Graded | %d |\n", r.Graded))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", r.Failed))
	sb.WriteString(fmt.Sprintf("| Ungraded | %d |\n", r.Ungraded))
	sb.WriteString(fmt.Sprintf("| Total submissions | %d |\n", r.Total))
	sb.WriteString(fmt.Sprintf("| Mean score | %s/%s (%s%%) |\n", trimFloat(s.Mean), outOf, trimFloat(s.MeanPct)))
	sb.WriteString(fmt.Sprintf("| Median score | %s |\n", trimFloat(s.Median)))
	sb.WriteString(fmt.Sprintf("| Min | %s |\n", trimFloat(s.Min)))
	sb.WriteString(fmt.Sprintf("| Max | %s |\n", trimFloat(s.Max)))
	sb.WriteString(fmt.Sprintf("| Std dev | %s |\n\n", trimFloat(s.StdDev)))

	if len(s.Distribution) > 0 {
		sb.WriteString("## Score distribution\n\n")
		sb.WriteString("| Score | Count |\n|-------|-------|\n")
		for _, d := range s.Distribution {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", d.Label, d.Count))
		}
		sb.WriteString("\n")
	}

	if len(r.Failures) > 0 {
		sb.WriteString("## Failed submissions\n\n")
		for _, f := range r.Failures {
			sb.WriteString(fmt.Sprintf("- %s (%s at %s)\n", f.Submission, f.Kind, f.Stage))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// stdDev is the sample standard deviation; callers guard len > 1.
func stdDev(xs []float64) float64 {
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
