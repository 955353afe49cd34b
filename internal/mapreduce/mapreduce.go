package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"matmr/internal/coordinator"
	"matmr/internal/logger"
	"matmr/internal/matrix"
	"matmr/internal/partition"
	"matmr/internal/transport"
	"matmr/internal/types"
	"matmr/internal/worker"
)

// Ledger records job lifecycle. *ledger.Cluster satisfies it.
type Ledger interface {
	Submit(job types.JobRecord) error
	Complete(jobID string) error
	Fail(jobID, reason string) error
}

// Config for an Engine
type Config struct {
	Workers int // worker ranks, master excluded
	Buffer  int // per-link channel capacity; 0 is a rendezvous
	Logger  *logger.Logger
	Ledger  Ledger // optional
}

// Engine runs one master and a fixed pool of worker ranks per job.
type Engine struct {
	workers int
	buffer  int
	logger  *logger.Logger
	ledger  Ledger
}

// Job is one multiplication. The paths are informational unless the job
// is run through ExecuteFiles.
type Job struct {
	A, B   *matrix.Matrix
	InputA string
	InputB string
	Output string
}

// Result of a successful run
type Result struct {
	JobID string
	Plan  *partition.Plan
	C     *matrix.Matrix
}

func NewEngine(cfg Config) *Engine {
	lg := cfg.Logger
	if lg == nil {
		lg = logger.New("INFO")
	}
	return &Engine{
		workers: cfg.Workers,
		buffer:  cfg.Buffer,
		logger:  lg,
		ledger:  cfg.Ledger,
	}
}

// Plan validates the configuration for an n×n job without running it.
func (e *Engine) Plan(n int) (*partition.Plan, error) {
	return partition.New(e.workers, n)
}

// Execute multiplies job.A by job.B. Configuration errors are returned
// before any rank starts.
func (e *Engine) Execute(ctx context.Context, job Job) (*Result, error) {
	if job.A == nil || job.B == nil {
		return nil, fmt.Errorf("%w: both input matrices are required", types.ErrConfig)
	}
	if job.A.Size != job.B.Size {
		return nil, fmt.Errorf("%w: input sizes differ (%d vs %d)", types.ErrConfig, job.A.Size, job.B.Size)
	}
	plan, err := e.Plan(job.A.Size)
	if err != nil {
		return nil, err
	}

	jobID := "job-" + uuid.New().String()[:8]
	lg := e.logger.With(map[string]interface{}{"job": jobID})
	lg.Info("Job started: size=%d workers=%d mappers=%d reducers=%d",
		plan.Size, plan.Workers, plan.NumMappers, plan.NumReducers)

	if e.ledger != nil {
		rec := types.JobRecord{
			ID:          jobID,
			MatrixSize:  plan.Size,
			Workers:     plan.Workers,
			NumMappers:  plan.NumMappers,
			NumReducers: plan.NumReducers,
			InputA:      job.InputA,
			InputB:      job.InputB,
			Output:      job.Output,
		}
		if err := e.ledger.Submit(rec); err != nil {
			return nil, fmt.Errorf("failed to record job %s: %w", jobID, err)
		}
	}

	c, err := e.run(ctx, plan, job.A, job.B, lg)
	if err != nil {
		lg.Error("Job failed: %v", err)
		if e.ledger != nil {
			if lerr := e.ledger.Fail(jobID, err.Error()); lerr != nil {
				lg.Warn("Failed to record job failure: %v", lerr)
			}
		}
		return nil, err
	}

	if e.ledger != nil {
		if err := e.ledger.Complete(jobID); err != nil {
			lg.Warn("Failed to record job completion: %v", err)
		}
	}
	lg.Info("Job completed")
	return &Result{JobID: jobID, Plan: plan, C: c}, nil
}

// run starts rank 0 and every worker rank as one group; the first rank to
// fail cancels the others.
func (e *Engine) run(ctx context.Context, plan *partition.Plan, a, b *matrix.Matrix, lg *logger.Logger) (*matrix.Matrix, error) {
	net := transport.NewNetwork(plan.Workers+1, e.buffer)
	g, gctx := errgroup.WithContext(ctx)

	var c *matrix.Matrix
	g.Go(func() error {
		var err error
		c, err = coordinator.NewMaster(net.Endpoint(0), plan, lg).Run(gctx)
		return err
	})
	for rank := 1; rank <= plan.Workers; rank++ {
		w := worker.New(net.Endpoint(rank), plan, a, b, lg)
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c, nil
}

// FileJob names the inputs and output of a job run from disk.
type FileJob struct {
	Size     int
	InputA   string
	InputB   string
	Output   string
	Generate bool       // overwrite inputs with random matrices first
	Rand     *rand.Rand // source for generated inputs
}

// ExecuteFiles loads (or generates) the inputs, runs the job and saves C.
// Inputs that do not exist are generated.
func (e *Engine) ExecuteFiles(ctx context.Context, fj FileJob) (*Result, error) {
	if _, err := e.Plan(fj.Size); err != nil {
		return nil, err
	}

	for _, p := range []string{fj.InputA, fj.InputB} {
		gen := fj.Generate
		if !gen {
			if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
				gen = true
			}
		}
		if !gen {
			continue
		}
		if fj.Rand == nil {
			return nil, fmt.Errorf("%w: no random source to generate %s", types.ErrConfig, p)
		}
		if err := matrix.Generate(fj.Rand, fj.Size, p); err != nil {
			return nil, err
		}
		e.logger.Info("Generated random %dx%d matrix: %s", fj.Size, fj.Size, p)
	}

	a, err := matrix.Load(fj.InputA, fj.Size)
	if err != nil {
		return nil, err
	}
	b, err := matrix.Load(fj.InputB, fj.Size)
	if err != nil {
		return nil, err
	}

	res, err := e.Execute(ctx, Job{A: a, B: b, InputA: fj.InputA, InputB: fj.InputB, Output: fj.Output})
	if err != nil {
		return nil, err
	}

	if err := matrix.Save(fj.Output, res.C); err != nil {
		return nil, err
	}
	return res, nil
}
