// Package worker runs processing and recombination as queued tasks so
// accepting a request never waits on an encode.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/keagan/eventcut/internal/config"
	"github.com/rs/zerolog"
)

const (
	TaskProcess   = "montage:process"
	TaskRecombine = "montage:recombine"
)

// Queue bundles the asynq client, server and inspector for one Redis.
type Queue struct {
	cfg       *config.Config
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
	logger    zerolog.Logger
}

func NewQueue(logger zerolog.Logger, cfg *config.Config) *Queue {
	logger = logger.With().Str("component", "worker").Logger()
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Queue.RedisAddr, DB: cfg.Queue.RedisDB}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     cfg.Concurrency,
			Queues:          map[string]int{cfg.Queue.Name: 1},
			Logger:          asynqLogger{logger},
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				id, _ := asynq.GetTaskID(ctx)
				logger.Error().Err(err).Str("task", id).Str("type", task.Type()).Msg("task failed")
			}),
		},
	)

	return &Queue{
		cfg:       cfg,
		client:    asynq.NewClient(redisOpt),
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
		logger:    logger,
	}
}

// Register installs the task handlers. newRunner is called once per task.
func (q *Queue) Register(newRunner RunnerFactory) {
	q.mux.Handle(TaskProcess, NewProcessHandler(q.logger, newRunner))
	q.mux.Handle(TaskRecombine, NewRecombineHandler(q.logger, newRunner))
}

// EnqueueProcess validates the settings and queues one processing run.
func (q *Queue) EnqueueProcess(ctx context.Context, p ProcessPayload) (string, error) {
	if err := p.Settings.Validate(); err != nil {
		return "", err
	}
	return q.enqueue(ctx, TaskProcess, p, q.cfg.Timeouts.Total())
}

// EnqueueRecombine queues a recombination of stored segments.
func (q *Queue) EnqueueRecombine(ctx context.Context, p RecombinePayload) (string, error) {
	if len(p.Names) == 0 {
		return "", fmt.Errorf("at least one segment name is required")
	}
	return q.enqueue(ctx, TaskRecombine, p, q.cfg.Timeouts.Recombine+q.cfg.Timeouts.Probe)
}

func (q *Queue) enqueue(ctx context.Context, taskType string, payload any, timeout time.Duration) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data,
		asynq.TaskID(uuid.NewString()),
		asynq.Queue(q.cfg.Queue.Name),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
		asynq.Retention(q.cfg.Queue.Retention),
	)
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	q.logger.Info().Str("task", info.ID).Str("type", taskType).Str("queue", info.Queue).Msg("task enqueued")
	return info.ID, nil
}

// Status is a task's state and, once finished, its result.
type Status struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	State   string      `json:"state"`
	LastErr string      `json:"last_error,omitempty"`
	Result  *TaskResult `json:"result,omitempty"`
}

func (q *Queue) Status(id string) (*Status, error) {
	info, err := q.inspector.GetTaskInfo(q.cfg.Queue.Name, id)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	st := &Status{
		ID:      info.ID,
		Type:    info.Type,
		State:   info.State.String(),
		LastErr: info.LastErr,
	}
	if len(info.Result) > 0 {
		var res TaskResult
		if err := json.Unmarshal(info.Result, &res); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", id, err)
		}
		st.Result = &res
	}
	return st, nil
}

// Cancel signals an active task to stop. The run observes it at its next
// checkpoint or by its ffmpeg process being killed.
func (q *Queue) Cancel(id string) error {
	if err := q.inspector.CancelProcessing(id); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	q.logger.Info().Str("task", id).Msg("cancel requested")
	return nil
}

// Serve processes tasks until ctx is done.
func (q *Queue) Serve(ctx context.Context) error {
	q.logger.Info().
		Int("concurrency", q.cfg.Concurrency).
		Str("queue", q.cfg.Queue.Name).
		Str("redis", q.cfg.Queue.RedisAddr).
		Msg("worker starting")
	if err := q.server.Start(q.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	q.server.Shutdown()
	q.logger.Info().Msg("worker stopped")
	return nil
}

func (q *Queue) Close() {
	q.client.Close()
	q.inspector.Close()
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
