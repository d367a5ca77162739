// Package scanner walks one submission's file tree and assembles the
// ordered context bundle handed to grading.
//
// The pipeline per submission: expand archives in place, compile the
// ignore matcher (CLI excludes, then .gitignore, then .graderignore),
// walk the tree in lexicographic order pruning ignored directories,
// extract each surviving file, and emit items in traversal order.
// Extraction runs on a bounded worker group but results are re-slotted
// by walk index, so the bundle is byte-identical across runs on an
// unchanged tree no matter how extraction interleaves.
package scanner

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gradenerd/internal/archive"
	"gradenerd/internal/extract"
	"gradenerd/internal/ignore"
)

// Item is one extracted content unit with its deterministic position.
type Item struct {
	RelPath string
	Ordinal int
	Part    extract.Part
}

// Bundle is the ordered, extracted representation of one submission.
// Extraction and archive failures are accumulated here as data; they
// never abort the scan.
type Bundle struct {
	Submission string // folder name, the submission's identity
	Root       string
	Items      []Item
	Errors     []string
}

// TextContext concatenates the bundle's text items, used for logging
// and for callers that want a text-only view.
func (b *Bundle) TextContext() string {
	var sb strings.Builder
	for _, it := range b.Items {
		if it.Part.Kind != extract.KindText {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(it.Part.Text)
	}
	return sb.String()
}

// Scanner scans submission trees into Bundles.
type Scanner struct {
	logger  *zap.Logger
	workers int
}

// New creates a Scanner. workers bounds the internal extraction
// parallelism; values < 1 fall back to the CPU count.
func New(logger *zap.Logger, workers int) *Scanner {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &Scanner{logger: logger, workers: workers}
}

// ignoreFileNames are read from the submission root only, in compile
// order after CLI patterns (.graderignore last, so it overrides).
var ignoreFileNames = []struct {
	name   string
	source ignore.Source
}{
	{".gitignore", ignore.SourceGitignore},
	{".graderignore", ignore.SourceGraderignore},
}

// Scan builds the Bundle for one submission root. An empty tree yields
// an empty-but-valid Bundle; the orchestrator decides whether that is
// gradable.
func (s *Scanner) Scan(ctx context.Context, root string, cliPatterns []string) (*Bundle, error) {
	bundle := &Bundle{
		Submission: filepath.Base(root),
		Root:       root,
	}

	_, archiveErrs := archive.Expand(root, s.logger)
	for _, ae := range archiveErrs {
		bundle.Errors = append(bundle.Errors, ae.Error())
	}

	matcher := s.buildMatcher(root, cliPatterns)

	files, walkErr := s.collectFiles(ctx, root, matcher)
	if walkErr != nil {
		return nil, walkErr
	}

	items, extractErrs := s.extractAll(ctx, root, files)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bundle.Items = items
	bundle.Errors = append(bundle.Errors, extractErrs...)

	s.logger.Debug("scanned submission",
		zap.String("submission", bundle.Submission),
		zap.Int("items", len(bundle.Items)),
		zap.Int("errors", len(bundle.Errors)))
	return bundle, nil
}

func (s *Scanner) buildMatcher(root string, cliPatterns []string) *ignore.Matcher {
	patterns := ignore.FromLines(ignore.SourceCLI, cliPatterns)
	for _, f := range ignoreFileNames {
		lines, err := readLines(filepath.Join(root, f.name))
		if err != nil {
			continue // absence is not an error
		}
		patterns = append(patterns, ignore.FromLines(f.source, lines)...)
	}
	return ignore.Compile(patterns)
}

// collectFiles walks the tree in lexical order, pruning ignored
// directories and returning the relative paths of files that have a
// registered extractor. Files without one are skipped silently.
func (s *Scanner) collectFiles(ctx context.Context, root string, matcher *ignore.Matcher) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matcher.Matches(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.Matches(rel, false) {
			return nil
		}
		if !extract.Supported(filepath.Ext(p)) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// extractAll runs extraction over the collected files with bounded
// parallelism, then flattens the per-file results back into walk order
// and assigns ordinals.
func (s *Scanner) extractAll(ctx context.Context, root string, files []string) ([]Item, []string) {
	type result struct {
		parts []extract.Part
		err   *extract.Error
	}
	results := make([]result, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parts, xerr := extract.File(filepath.Join(root, filepath.FromSlash(rel)))
			results[i] = result{parts: parts, err: xerr}
			return nil
		})
	}
	_ = g.Wait()

	var items []Item
	var errs []string
	ordinal := 0
	for i, rel := range files {
		if results[i].err != nil {
			errs = append(errs, results[i].err.Error())
			continue
		}
		for _, part := range results[i].parts {
			items = append(items, Item{RelPath: rel, Ordinal: ordinal, Part: part})
			ordinal++
		}
	}
	return items, errs
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
