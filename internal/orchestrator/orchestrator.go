// Package orchestrator drives a grading run: it discovers submission
// folders, pushes each through scan → grade → write under a global
// concurrency ceiling, and tallies the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"gradenerd/internal/artifact"
	"gradenerd/internal/grader"
	"gradenerd/internal/scanner"
)

// Status is a task's position in its lifecycle. A task ends in
// StatusSucceeded or StatusFailed, never anywhere else.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusScanning   Status = "scanning"
	StatusGrading    Status = "grading"
	StatusWriting    Status = "writing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Stages recorded in failure artifacts.
const (
	stageScan  = "scan"
	stageGrade = "grade"
	stageWrite = "write"
)

// archiveFolderName is skipped during discovery; graders park old
// submissions there.
const archiveFolderName = "Archive"

// Task is one submission's passage through the pipeline.
type Task struct {
	ID           uuid.UUID
	Submission   string
	Root         string
	Status       Status
	Err          error
	ArtifactPath string
	Ungraded     bool
}

// RunResult summarizes a completed run. Ungraded tasks count as
// succeeded; the separate counter exists for reporting.
type RunResult struct {
	ID        uuid.UUID
	Total     int
	Succeeded int
	Failed    int
	Ungraded  int
	Tasks     []*Task
	Duration  time.Duration
}

// Options configure a run.
type Options struct {
	DataRoot        string
	OutputRoot      string
	Rubric          string
	Concurrency     int64
	ExcludePatterns []string
	Guardrails      grader.Guardrails
}

// Orchestrator wires the scanner and grading client into runs.
type Orchestrator struct {
	scanner *scanner.Scanner
	client  grader.Client
	logger  *zap.Logger
	opts    Options
}

// New creates an Orchestrator. Concurrency values < 1 fall back to 5.
func New(sc *scanner.Scanner, client grader.Client, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 5
	}
	return &Orchestrator{scanner: sc, client: client, logger: logger, opts: opts}
}

// Run grades every discovered submission and returns once all tasks
// are terminal. Cancellation stops admitting new tasks; in-flight
// tasks finish or fail cleanly. Run itself errors only when discovery
// or output setup fails — per-task failures live in the result.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()

	tasks, err := o.discover()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(o.opts.OutputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}

	o.logger.Info("starting grading run",
		zap.Int("submissions", len(tasks)),
		zap.Int64("concurrency", o.opts.Concurrency))

	sem := semaphore.NewWeighted(o.opts.Concurrency)
	var wg sync.WaitGroup
	for _, t := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Run canceled before this task was admitted. It still
			// reaches a terminal state, but no artifact is written.
			t.Status = StatusFailed
			t.Err = err
			continue
		}
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer sem.Release(1)
			o.process(ctx, t)
		}(t)
	}
	wg.Wait()

	res := &RunResult{ID: uuid.New(), Total: len(tasks), Tasks: tasks, Duration: time.Since(start)}
	for _, t := range tasks {
		switch t.Status {
		case StatusSucceeded:
			res.Succeeded++
			if t.Ungraded {
				res.Ungraded++
			}
		default:
			res.Failed++
		}
	}

	o.logger.Info("grading run finished",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("ungraded", res.Ungraded),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// discover enumerates the immediate subdirectories of the data root in
// sorted order. Recursion happens later, inside the scanner.
func (o *Orchestrator) discover() ([]*Task, error) {
	entries, err := os.ReadDir(o.opts.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("read data root: %w", err)
	}

	var tasks []*Task
	for _, e := range entries {
		if !e.IsDir() || e.Name() == archiveFolderName || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		tasks = append(tasks, &Task{
			ID:         uuid.New(),
			Submission: e.Name(),
			Root:       filepath.Join(o.opts.DataRoot, e.Name()),
			Status:     StatusDiscovered,
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Submission < tasks[j].Submission })
	return tasks, nil
}

// process runs one task to a terminal state. Failures in any stage are
// isolated to this task.
func (o *Orchestrator) process(ctx context.Context, t *Task) {
	log := o.logger.With(zap.String("submission", t.Submission), zap.String("task", t.ID.String()))

	t.Status = StatusScanning
	bundle, err := o.scanner.Scan(ctx, t.Root, o.opts.ExcludePatterns)
	if err != nil {
		o.fail(ctx, t, stageScan, "io", err)
		return
	}
	for _, msg := range bundle.Errors {
		log.Warn("bundle error", zap.String("error", msg))
	}

	if len(bundle.Items) == 0 {
		log.Info("no gradable content, writing ungraded artifact")
		o.writeArtifact(t, ungradedArtifact(t.Submission))
		if t.Status != StatusFailed {
			t.Ungraded = true
		}
		return
	}

	t.Status = StatusGrading
	feedback, err := o.client.Grade(ctx, o.opts.Rubric, bundle)
	if err != nil {
		kind := "malformed"
		var gerr *grader.Error
		if errors.As(err, &gerr) {
			kind = string(gerr.Kind)
		}
		o.fail(ctx, t, stageGrade, kind, err)
		return
	}
	feedback = o.opts.Guardrails.Apply(feedback)

	o.writeArtifact(t, feedback)
	if t.Status == StatusSucceeded {
		log.Info("graded", zap.String("artifact", t.ArtifactPath))
	}
}

// fail records the error and, unless the whole run is being torn down,
// persists a marked failure artifact so the outcome is visible on disk.
func (o *Orchestrator) fail(ctx context.Context, t *Task, stage, kind string, err error) {
	t.Status = StatusFailed
	t.Err = err
	o.logger.Error("task failed",
		zap.String("submission", t.Submission),
		zap.String("stage", stage),
		zap.String("kind", kind),
		zap.Error(err))

	if ctx.Err() != nil {
		return // run canceled: no partial artifacts
	}
	content := errorArtifact(t.Submission, stage, kind, err)
	path := artifact.Path(o.opts.OutputRoot, t.Submission)
	if werr := artifact.WriteAtomic(path, []byte(content)); werr != nil {
		o.logger.Error("failed to write error artifact",
			zap.String("submission", t.Submission), zap.Error(werr))
		return
	}
	t.ArtifactPath = path
}

// writeArtifact persists content and moves the task to its terminal
// state. A write failure is a task failure, not a run failure.
func (o *Orchestrator) writeArtifact(t *Task, content string) {
	t.Status = StatusWriting
	path := artifact.Path(o.opts.OutputRoot, t.Submission)
	if err := artifact.WriteAtomic(path, []byte(content)); err != nil {
		t.Status = StatusFailed
		t.Err = fmt.Errorf("write artifact: %w", err)
		o.logger.Error("artifact write failed",
			zap.String("submission", t.Submission), zap.Error(err))
		return
	}
	t.ArtifactPath = path
	t.Status = StatusSucceeded
}

func errorArtifact(submission, stage, kind string, err error) string {
	var sb strings.Builder
	sb.WriteString(artifact.ErrorMarker(kind, stage))
	sb.WriteString("\n\n# Grading Error\n\n")
	sb.WriteString(fmt.Sprintf("Submission `%s` could not be graded.\n\n", submission))
	sb.WriteString(fmt.Sprintf("- Stage: %s\n- Kind: %s\n- Detail: %s\n", stage, kind, err))
	return sb.String()
}

func ungradedArtifact(submission string) string {
	return fmt.Sprintf("%s\n\n# Not Graded\n\nSubmission `%s` contained no gradable content.\n",
		artifact.UngradedMarker, submission)
}
