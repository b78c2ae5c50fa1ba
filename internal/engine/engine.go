// Package engine connects the workflow to a Zeebe gateway: it creates
// process instances for the trigger and opens one job worker per task type.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-orderflow-workflow/internal/config"
	"github.com/imrishuroy/go-orderflow-workflow/internal/tasks"
	"github.com/imrishuroy/go-orderflow-workflow/internal/workflow"
)

// WorkerOptions tunes the job workers opened by Register.
type WorkerOptions struct {
	Name          string
	MaxJobsActive int
	Concurrency   int
	Timeout       time.Duration
}

// Engine wraps a Zeebe client.
type Engine struct {
	client  zbc.Client
	workers []worker.JobWorker
	log     *zap.Logger
}

// New dials the gateway described by cfg. OAuth client credentials are used
// when a client id is configured; otherwise the connection is anonymous.
func New(cfg config.Zeebe, log *zap.Logger) (*Engine, error) {
	clientCfg := &zbc.ClientConfig{
		GatewayAddress:         cfg.Address,
		UsePlaintextConnection: cfg.Plaintext,
	}
	if cfg.ClientID != "" {
		provider, err := zbc.NewOAuthCredentialsProvider(&zbc.OAuthProviderConfig{
			ClientID:               cfg.ClientID,
			ClientSecret:           cfg.ClientSecret,
			Audience:               cfg.Audience,
			AuthorizationServerURL: cfg.AuthorizationServerURL,
		})
		if err != nil {
			return nil, fmt.Errorf("zeebe credentials: %w", err)
		}
		clientCfg.CredentialsProvider = provider
	}

	client, err := zbc.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("zeebe client: %w", err)
	}
	log.Info("connected to zeebe gateway", zap.String("address", cfg.Address), zap.Bool("plaintext", cfg.Plaintext))
	return &Engine{client: client, log: log}, nil
}

// CreateInstance starts the latest deployed version of processID and returns
// the process instance key.
func (e *Engine) CreateInstance(ctx context.Context, processID string, variables map[string]interface{}) (string, error) {
	cmd, err := e.client.NewCreateInstanceCommand().
		BPMNProcessId(processID).
		LatestVersion().
		VariablesFromMap(variables)
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}
	resp, err := cmd.Send(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.GetProcessInstanceKey(), 10), nil
}

// Register opens one job worker per task type in registry. Jobs are run by
// exec with ctx as their parent context.
func (e *Engine) Register(ctx context.Context, registry *tasks.Registry, exec *tasks.Executor, opts WorkerOptions) {
	for _, t := range registry.Types() {
		step := e.client.NewJobWorker().
			JobType(string(t)).
			Handler(jobHandler(ctx, exec, e.log))
		if opts.Name != "" {
			step = step.Name(opts.Name)
		}
		if opts.Timeout > 0 {
			step = step.Timeout(opts.Timeout)
		}
		if opts.MaxJobsActive > 0 {
			step = step.MaxJobsActive(opts.MaxJobsActive)
		}
		if opts.Concurrency > 0 {
			step = step.Concurrency(opts.Concurrency)
		}
		e.workers = append(e.workers, step.Open())
		e.log.Info("job worker opened", zap.String("task_type", string(t)))
	}
}

// Close stops every job worker, waits for in-flight jobs, then closes the client.
func (e *Engine) Close() error {
	for _, w := range e.workers {
		w.Close()
	}
	for _, w := range e.workers {
		w.AwaitClose()
	}
	e.workers = nil
	return e.client.Close()
}

func jobHandler(ctx context.Context, exec *tasks.Executor, log *zap.Logger) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		sig := signaler{client: client}
		j, err := toJob(job)
		if err != nil {
			log.Error("cannot decode job variables", zap.Int64("job_key", job.GetKey()), zap.Error(err))
			if failErr := sig.Fail(ctx, job.GetKey(), tasks.NewFailure(err)); failErr != nil {
				log.Error("failed to fail job", zap.Int64("job_key", job.GetKey()), zap.Error(failErr))
			}
			return
		}
		exec.Execute(ctx, sig, j)
	}
}

func toJob(job entities.Job) (tasks.Job, error) {
	vars, err := job.GetVariablesAsMap()
	if err != nil {
		return tasks.Job{}, err
	}
	return tasks.Job{
		Key:       job.GetKey(),
		Type:      workflow.TaskType(job.GetType()),
		Retries:   job.GetRetries(),
		Variables: vars,
	}, nil
}

// signaler acknowledges jobs through a Zeebe job client.
type signaler struct {
	client worker.JobClient
}

func (s signaler) Complete(ctx context.Context, jobKey int64, variables map[string]interface{}) error {
	cmd, err := s.client.NewCompleteJobCommand().JobKey(jobKey).VariablesFromMap(variables)
	if err != nil {
		return fmt.Errorf("encode result variables: %w", err)
	}
	_, err = cmd.Send(ctx)
	return err
}

func (s signaler) Fail(ctx context.Context, jobKey int64, f tasks.Failure) error {
	_, err := s.client.NewFailJobCommand().
		JobKey(jobKey).
		Retries(f.Retries).
		RetryBackoff(f.RetryBackoff).
		ErrorMessage(f.ErrorMessage).
		Send(ctx)
	return err
}
