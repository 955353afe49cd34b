package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"matmr/internal/discovery"
	"matmr/internal/ledger"
	"matmr/internal/logger"
	"matmr/internal/mapreduce"
	"matmr/internal/partition"
	"matmr/internal/types"
)

const usage = `usage: matmr [flags] <matrix_size> <input_file_A> <input_file_B> <output_file>
       matmr -gossip-member -gossip-join host:port [-gossip-port p]`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, types.ErrConfig) {
			fmt.Fprintln(os.Stderr, usage)
		}
		os.Exit(1)
	}
}

type options struct {
	workers      int
	buffer       int
	logLevel     string
	seed         int64
	generate     bool
	ledgerDir    string
	ledgerAddr   string
	gossipAddr   string
	gossipPort   int
	gossipJoin   string
	gossipExpect int
	gossipWait   time.Duration
	gossipMember bool
	gossipName   string

	size   int
	inputA string
	inputB string
	output string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("matmr", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&opts.workers, "workers", 3, "Number of worker ranks (master excluded)")
	fs.IntVar(&opts.buffer, "buffer", 0, "Per-link message buffer; 0 makes every send synchronous")
	fs.StringVar(&opts.logLevel, "log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	fs.Int64Var(&opts.seed, "seed", 0, "Seed for generated inputs; 0 uses the clock")
	fs.BoolVar(&opts.generate, "generate", false, "Overwrite both inputs with random matrices before running")
	fs.StringVar(&opts.ledgerDir, "ledger-dir", "", "Record jobs in a Raft ledger stored here")
	fs.StringVar(&opts.ledgerAddr, "ledger-addr", "127.0.0.1:0", "Raft bind address for the ledger")
	fs.StringVar(&opts.gossipAddr, "gossip-addr", "127.0.0.1", "Gossip bind address")
	fs.IntVar(&opts.gossipPort, "gossip-port", 0, "Gossip bind port")
	fs.StringVar(&opts.gossipJoin, "gossip-join", "", "Comma-separated gossip peers to join")
	fs.IntVar(&opts.gossipExpect, "gossip-expect", 0, "Wait for this many gossip members and size the pool from them")
	fs.DurationVar(&opts.gossipWait, "gossip-wait", 30*time.Second, "How long to wait for gossip members")
	fs.BoolVar(&opts.gossipMember, "gossip-member", false, "Join the gossip pool as a worker and stay until interrupted")
	fs.StringVar(&opts.gossipName, "gossip-name", "", "Gossip node name; defaults to worker-<random>")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfig, err)
	}
	if opts.gossipMember {
		if opts.gossipJoin == "" && opts.gossipPort == 0 {
			return nil, fmt.Errorf("%w: -gossip-member needs -gossip-join or a fixed -gossip-port", types.ErrConfig)
		}
		return opts, nil
	}
	if fs.NArg() < 4 {
		return nil, fmt.Errorf("%w: expected 4 arguments, got %d", types.ErrConfig, fs.NArg())
	}

	size, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid matrix size %q", types.ErrConfig, fs.Arg(0))
	}
	if size < partition.MinMatrixSize {
		return nil, fmt.Errorf("%w (got %d)", partition.ErrMatrixSize, size)
	}
	opts.size = size
	opts.inputA, opts.inputB, opts.output = fs.Arg(1), fs.Arg(2), fs.Arg(3)
	return opts, nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	lg := logger.NewWithWriter(opts.logLevel, stderr)

	if opts.gossipMember {
		return runMember(ctx, opts, lg)
	}

	if opts.gossipExpect > 0 {
		workers, err := poolFromGossip(ctx, opts, lg)
		if err != nil {
			return err
		}
		opts.workers = workers
	}

	cfg := mapreduce.Config{Workers: opts.workers, Buffer: opts.buffer, Logger: lg}

	var led *ledger.Cluster
	if opts.ledgerDir != "" {
		led, err = ledger.NewCluster(ledger.Config{
			NodeID:   "master",
			BindAddr: opts.ledgerAddr,
			DataDir:  opts.ledgerDir,
			Logger:   lg,
		})
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		defer led.Close()
		if err := led.WaitForLeader(10 * time.Second); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		cfg.Ledger = led
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	res, err := mapreduce.NewEngine(cfg).ExecuteFiles(ctx, mapreduce.FileJob{
		Size:     opts.size,
		InputA:   opts.inputA,
		InputB:   opts.inputB,
		Output:   opts.output,
		Generate: opts.generate,
		Rand:     rand.New(rand.NewSource(seed)),
	})
	if err != nil {
		return err
	}

	lg.Info("Matrix multiplication complete: job_id=%s output=%s", res.JobID, opts.output)

	if led != nil {
		if job, ok := led.Job(res.JobID); ok {
			lg.Debug("Ledger record: job_id=%s status=%s size=%d mappers=%d reducers=%d finished=%s",
				job.ID, job.Status, job.MatrixSize, job.NumMappers, job.NumReducers, job.Finished.Format(time.RFC3339))
		}
		state := led.State()
		lg.Info("Ledger: jobs=%d leader=%s", len(state.Jobs), state.Leader)
	}
	return nil
}

func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// runMember joins the gossip pool and stays a member until ctx ends.
func runMember(ctx context.Context, opts *options, lg *logger.Logger) error {
	name := opts.gossipName
	if name == "" {
		name = "worker-" + uuid.New().String()[:8]
	}
	nd, err := discovery.NewNodeDiscovery(discovery.Config{
		NodeID:   name,
		BindAddr: opts.gossipAddr,
		BindPort: opts.gossipPort,
		Logger:   lg,
	})
	if err != nil {
		return err
	}
	defer func() {
		nd.Leave(time.Second)
		nd.Shutdown()
	}()

	if join := splitAddrs(opts.gossipJoin); len(join) > 0 {
		if err := nd.Join(ctx, join); err != nil {
			return err
		}
	}
	lg.Info("Pool member up: name=%s addr=%s", name, nd.LocalAddr())

	<-ctx.Done()
	lg.Info("Pool member leaving: name=%s", name)
	return nil
}

// poolFromGossip waits for the expected number of gossip members; every
// member but this one counts as a worker.
func poolFromGossip(ctx context.Context, opts *options, lg *logger.Logger) (int, error) {
	nd, err := discovery.NewNodeDiscovery(discovery.Config{
		NodeID:   "master",
		BindAddr: opts.gossipAddr,
		BindPort: opts.gossipPort,
		Logger:   lg,
	})
	if err != nil {
		return 0, err
	}
	defer func() {
		nd.Leave(time.Second)
		nd.Shutdown()
	}()

	wctx, cancel := context.WithTimeout(ctx, opts.gossipWait)
	defer cancel()
	if join := splitAddrs(opts.gossipJoin); len(join) > 0 {
		if err := nd.Join(wctx, join); err != nil {
			return 0, err
		}
	}
	if err := nd.WaitForMembers(wctx, opts.gossipExpect); err != nil {
		return 0, err
	}
	lg.Info("Worker pool sized from gossip: workers=%d", nd.PoolSize())
	return nd.PoolSize(), nil
}
