package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/keagan/eventcut/internal/apperr"
	"github.com/keagan/eventcut/internal/detect"
	"github.com/keagan/eventcut/internal/montage"
	"github.com/keagan/eventcut/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	err       error
	gotPath   string
	gotPolicy detect.Policy
	gotNames  []string
	gotOutput string
}

func (f *fakeRunner) DetectAndAssemble(ctx context.Context, mediaPath string, s detect.Settings) (*pipeline.Result, error) {
	f.gotPath, f.gotPolicy = mediaPath, s.Policy
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{RunID: "r1", Montage: &montage.Artifact{Name: "montage_a_00000000.mp4"}}, nil
}

func (f *fakeRunner) Recombine(ctx context.Context, names []string, outputName string) (*montage.Artifact, error) {
	f.gotNames, f.gotOutput = names, outputName
	if f.err != nil {
		return nil, f.err
	}
	return &montage.Artifact{Name: outputName}, nil
}

func factory(r Runner) RunnerFactory {
	return func() (Runner, error) { return r, nil }
}

func task(t *testing.T, typ string, payload any) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(typ, data)
}

func TestProcessHandler(t *testing.T) {
	r := &fakeRunner{}
	h := NewProcessHandler(zerolog.Nop(), factory(r))

	s := detect.DefaultSettings()
	s.Policy = detect.PolicyNoiseGate
	err := h.ProcessTask(context.Background(), task(t, TaskProcess, ProcessPayload{MediaPath: "/in/a.mp4", Settings: s}))

	require.NoError(t, err)
	assert.Equal(t, "/in/a.mp4", r.gotPath)
	assert.Equal(t, detect.PolicyNoiseGate, r.gotPolicy)
}

func TestProcessHandlerFailureSkipsRetry(t *testing.T) {
	r := &fakeRunner{err: apperr.EmptyResult("detect and assemble", "no segments")}
	h := NewProcessHandler(zerolog.Nop(), factory(r))

	err := h.ProcessTask(context.Background(), task(t, TaskProcess, ProcessPayload{MediaPath: "a.mp4", Settings: detect.DefaultSettings()}))

	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, apperr.ErrEmptyResult)
}

func TestHandlersRejectBadPayload(t *testing.T) {
	r := &fakeRunner{}
	for _, h := range []asynq.Handler{
		NewProcessHandler(zerolog.Nop(), factory(r)),
		NewRecombineHandler(zerolog.Nop(), factory(r)),
	} {
		err := h.ProcessTask(context.Background(), asynq.NewTask("x", []byte("{not json")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	}
	assert.Empty(t, r.gotPath)
	assert.Nil(t, r.gotNames)
}

func TestRecombineHandler(t *testing.T) {
	r := &fakeRunner{}
	h := NewRecombineHandler(zerolog.Nop(), factory(r))

	err := h.ProcessTask(context.Background(), task(t, TaskRecombine, RecombinePayload{
		Names: []string{"b.segment.2.mp4", "a.segment.1.mp4"}, OutputName: "out.mp4",
	}))

	require.NoError(t, err)
	assert.Equal(t, []string{"b.segment.2.mp4", "a.segment.1.mp4"}, r.gotNames)
	assert.Equal(t, "out.mp4", r.gotOutput)
}

func TestRunnerFactoryFailure(t *testing.T) {
	h := NewRecombineHandler(zerolog.Nop(), func() (Runner, error) {
		return nil, errors.New("ffmpeg not found")
	})
	err := h.ProcessTask(context.Background(), task(t, TaskRecombine, RecombinePayload{Names: []string{"a"}}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTaskResultCarriesKind(t *testing.T) {
	res := TaskResult{Kind: apperr.KindOf(apperr.ErrCanceled).String(), Error: "canceled"}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"canceled","error":"canceled"}`, string(data))
}
