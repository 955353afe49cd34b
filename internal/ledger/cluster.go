// Package ledger keeps a Raft-replicated record of every multiplication
// job: when it was submitted, its shape, and how it ended.
package ledger

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"matmr/internal/logger"
	"matmr/internal/types"

	raft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

const applyTimeout = 5 * time.Second

// Cluster is one ledger node
type Cluster struct {
	nodeID        string
	raft          *raft.Raft
	fsm           *FSM
	logStore      *raftboltdb.BoltStore
	stableStore   *raftboltdb.BoltStore
	snapshotStore raft.SnapshotStore
	transport     *raft.NetworkTransport
	logger        *logger.Logger
}

// Config for creating a ledger node
type Config struct {
	NodeID   string   // Unique node identifier
	BindAddr string   // host:port for the Raft transport; port 0 picks a free one
	DataDir  string   // Directory for log store and snapshots
	Peers    []string // nodeID@host:port of peers; empty bootstraps a single-node ledger
	Logger   *logger.Logger
}

// NewCluster opens (or creates) the ledger under cfg.DataDir
func NewCluster(cfg Config) (*Cluster, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("NodeID cannot be empty")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DataDir cannot be empty")
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:0"
	}

	lg := cfg.Logger
	if lg == nil {
		lg = logger.New("INFO")
	}
	lg.Info("Initializing job ledger: node_id=%s bind_addr=%s", cfg.NodeID, cfg.BindAddr)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	c := &Cluster{
		nodeID: cfg.NodeID,
		fsm:    NewFSM(lg),
		logger: lg,
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-logs.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}
	c.logStore = logStore

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}
	c.stableStore = stableStore

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 3, os.Stderr)
	if err != nil {
		c.closeStores()
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}
	c.snapshotStore = snapshotStore

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		c.closeStores()
		return nil, fmt.Errorf("failed to resolve address: %w", err)
	}
	var advertise net.Addr
	if addr.Port != 0 {
		advertise = addr
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, advertise, 3, 10*time.Second, os.Stderr)
	if err != nil {
		c.closeStores()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	c.transport = transport

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = 200 * time.Millisecond
	raftCfg.ElectionTimeout = 200 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 100 * time.Millisecond
	raftCfg.SnapshotInterval = 2 * time.Second
	raftCfg.SnapshotThreshold = 20
	if lg.Level() > logger.DEBUG {
		raftCfg.LogLevel = "WARN"
	}

	r, err := raft.NewRaft(raftCfg, c.fsm, c.logStore, c.stableStore, c.snapshotStore, transport)
	if err != nil {
		transport.Close()
		c.closeStores()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}
	c.raft = r

	hasState, err := raft.HasExistingState(c.logStore, c.stableStore, c.snapshotStore)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to inspect raft state: %w", err)
	}

	if !hasState {
		servers := []raft.Server{{
			Suffrage: raft.Voter,
			ID:       raft.ServerID(cfg.NodeID),
			Address:  transport.LocalAddr(),
		}}
		for _, p := range cfg.Peers {
			id, address, err := parsePeer(p)
			if err != nil {
				c.Close()
				return nil, err
			}
			servers = append(servers, raft.Server{Suffrage: raft.Voter, ID: raft.ServerID(id), Address: raft.ServerAddress(address)})
		}
		if err := c.raft.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to bootstrap ledger: %w", err)
		}
		lg.Info("Ledger bootstrapped: servers=%d", len(servers))
	}

	return c, nil
}

func parsePeer(p string) (string, string, error) {
	id, addr, ok := strings.Cut(p, "@")
	if !ok || id == "" || addr == "" {
		return "", "", fmt.Errorf("invalid peer %q, want nodeID@host:port", p)
	}
	return id, addr, nil
}

// IsLeader returns true if this node is the current leader
func (c *Cluster) IsLeader() bool {
	return c.raft.State() == raft.Leader
}

// GetLeader returns the current leader address
func (c *Cluster) GetLeader() string {
	addr, _ := c.raft.LeaderWithID()
	return string(addr)
}

// WaitForLeader waits until this node is leader and its FSM has caught
// up with the log, or the timeout expires
func (c *Cluster) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsLeader() {
			return c.raft.Barrier(applyTimeout).Error()
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no leadership within %s (leader=%q)", timeout, c.GetLeader())
}

func (c *Cluster) apply(entry *types.LogEntry) error {
	if !c.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", c.GetLeader())
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	f := c.raft.Apply(data, applyTimeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("failed to apply log: %w", err)
	}
	if err, ok := f.Response().(error); ok {
		return err
	}
	return nil
}

// Submit records a job that is about to start
func (c *Cluster) Submit(job types.JobRecord) error {
	return c.apply(&types.LogEntry{Operation: opSubmit, Job: job, Timestamp: time.Now()})
}

// Complete marks a job finished successfully
func (c *Cluster) Complete(jobID string) error {
	return c.apply(&types.LogEntry{Operation: opComplete, Job: types.JobRecord{ID: jobID}, Timestamp: time.Now()})
}

// Fail marks a job finished with an error
func (c *Cluster) Fail(jobID, reason string) error {
	return c.apply(&types.LogEntry{Operation: opFail, Job: types.JobRecord{ID: jobID, Error: reason}, Timestamp: time.Now()})
}

// Job returns a copy of one job record
func (c *Cluster) Job(jobID string) (types.JobRecord, bool) {
	return c.fsm.Job(jobID)
}

// State returns a copy of the replicated job table, stamped with the
// current leader
func (c *Cluster) State() *types.LedgerState {
	state := c.fsm.GetState()
	state.Leader = c.GetLeader()
	return state
}

func (c *Cluster) closeStores() {
	if c.logStore != nil {
		c.logStore.Close()
	}
	if c.stableStore != nil {
		c.stableStore.Close()
	}
}

// Close shuts the node down and releases its stores
func (c *Cluster) Close() error {
	if err := c.raft.Shutdown().Error(); err != nil {
		return err
	}
	if err := c.transport.Close(); err != nil {
		return err
	}
	if err := c.logStore.Close(); err != nil {
		return err
	}
	return c.stableStore.Close()
}
