package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/keagan/eventcut/internal/apperr"
	"github.com/keagan/eventcut/internal/detect"
	"github.com/keagan/eventcut/internal/montage"
	"github.com/keagan/eventcut/internal/pipeline"
	"github.com/rs/zerolog"
)

type ProcessPayload struct {
	MediaPath string          `json:"media_path"`
	Settings  detect.Settings `json:"settings"`
}

type RecombinePayload struct {
	Names      []string `json:"names"`
	OutputName string   `json:"output_name,omitempty"`
}

// TaskResult is stored with the task once it finishes.
type TaskResult struct {
	Kind      string            `json:"kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Process   *pipeline.Result  `json:"process,omitempty"`
	Recombine *montage.Artifact `json:"recombine,omitempty"`
}

// Runner is what a task executes against.
type Runner interface {
	DetectAndAssemble(ctx context.Context, mediaPath string, s detect.Settings) (*pipeline.Result, error)
	Recombine(ctx context.Context, names []string, outputName string) (*montage.Artifact, error)
}

// RunnerFactory builds a fresh runner for each task.
type RunnerFactory func() (Runner, error)

// ──────── Process Handler ────────

type ProcessHandler struct {
	newRunner RunnerFactory
	logger    zerolog.Logger
}

func NewProcessHandler(logger zerolog.Logger, newRunner RunnerFactory) *ProcessHandler {
	return &ProcessHandler{newRunner: newRunner, logger: logger}
}

func (h *ProcessHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ProcessPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal: %v: %w", err, asynq.SkipRetry)
	}

	runner, err := h.newRunner()
	if err != nil {
		return fail(t, err)
	}

	h.logger.Info().Str("source", p.MediaPath).Str("policy", string(p.Settings.Policy)).Msg("processing task")
	res, err := runner.DetectAndAssemble(ctx, p.MediaPath, p.Settings)
	if err != nil {
		return fail(t, err)
	}
	return write(t, TaskResult{Process: res})
}

// ──────── Recombine Handler ────────

type RecombineHandler struct {
	newRunner RunnerFactory
	logger    zerolog.Logger
}

func NewRecombineHandler(logger zerolog.Logger, newRunner RunnerFactory) *RecombineHandler {
	return &RecombineHandler{newRunner: newRunner, logger: logger}
}

func (h *RecombineHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p RecombinePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal: %v: %w", err, asynq.SkipRetry)
	}

	runner, err := h.newRunner()
	if err != nil {
		return fail(t, err)
	}

	h.logger.Info().Int("segments", len(p.Names)).Msg("recombine task")
	art, err := runner.Recombine(ctx, p.Names, p.OutputName)
	if err != nil {
		return fail(t, err)
	}
	return write(t, TaskResult{Recombine: art})
}

// fail records the error kind and stops asynq from retrying. Failed runs
// are never retried automatically.
func fail(t *asynq.Task, err error) error {
	_ = write(t, TaskResult{Kind: apperr.KindOf(err).String(), Error: err.Error()})
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func write(t *asynq.Task, res TaskResult) error {
	w := t.ResultWriter()
	if w == nil {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
