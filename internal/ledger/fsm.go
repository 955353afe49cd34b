package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"matmr/internal/logger"
	"matmr/internal/types"

	raft "github.com/hashicorp/raft"
)

const (
	opSubmit   = "submit"
	opComplete = "complete"
	opFail     = "fail"
)

// FSM applies committed job entries to the job table
type FSM struct {
	mu     sync.RWMutex
	state  *types.LedgerState
	logger *logger.Logger
}

func NewFSM(lg *logger.Logger) *FSM {
	return &FSM{
		state:  &types.LedgerState{Jobs: make(map[string]*types.JobRecord)},
		logger: lg,
	}
}

// Apply implements raft.FSM
func (f *FSM) Apply(log *raft.Log) interface{} {
	var entry types.LogEntry
	if err := json.Unmarshal(log.Data, &entry); err != nil {
		f.logger.Error("Failed to unmarshal log entry: %v", err)
		return fmt.Errorf("failed to unmarshal log entry: %w", err)
	}
	return f.applyEntry(&entry)
}

func (f *FSM) applyEntry(entry *types.LogEntry) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := entry.Job.ID
	switch entry.Operation {
	case opSubmit:
		if _, exists := f.state.Jobs[id]; exists {
			return fmt.Errorf("job already submitted: %s", id)
		}
		job := entry.Job
		job.Status = types.JobSubmitted
		job.Submitted = entry.Timestamp
		f.state.Jobs[id] = &job
		f.state.Version++
		f.logger.Info("Job submitted: job_id=%s size=%d workers=%d", id, job.MatrixSize, job.Workers)
		return nil

	case opComplete, opFail:
		job, exists := f.state.Jobs[id]
		if !exists {
			f.logger.Warn("Job not found for completion: job_id=%s", id)
			return fmt.Errorf("job not found: %s", id)
		}
		if job.Status != types.JobSubmitted {
			return fmt.Errorf("job %s already %s", id, job.Status)
		}
		job.Status = types.JobCompleted
		if entry.Operation == opFail {
			job.Status = types.JobFailed
			job.Error = entry.Job.Error
		}
		job.Finished = entry.Timestamp
		f.state.Version++
		f.logger.Info("Job finished: job_id=%s status=%s", id, job.Status)
		return nil

	default:
		f.logger.Warn("Unknown ledger operation: %s", entry.Operation)
		return fmt.Errorf("unknown ledger operation: %s", entry.Operation)
	}
}

// Snapshot implements raft.FSM
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &snapshot{state: f.GetState()}, nil
}

// Restore implements raft.FSM
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var state types.LedgerState
	if err := json.NewDecoder(rc).Decode(&state); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if state.Jobs == nil {
		state.Jobs = make(map[string]*types.JobRecord)
	}

	f.mu.Lock()
	f.state = &state
	f.mu.Unlock()
	return nil
}

// GetState returns a deep copy of the job table
func (f *FSM) GetState() *types.LedgerState {
	f.mu.RLock()
	defer f.mu.RUnlock()

	stateCopy := &types.LedgerState{
		Jobs:    make(map[string]*types.JobRecord, len(f.state.Jobs)),
		Version: f.state.Version,
	}
	for k, v := range f.state.Jobs {
		job := *v
		stateCopy.Jobs[k] = &job
	}
	return stateCopy
}

func (f *FSM) Job(id string) (types.JobRecord, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	job, ok := f.state.Jobs[id]
	if !ok {
		return types.JobRecord{}, false
	}
	return *job, true
}

type snapshot struct {
	state *types.LedgerState
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(s.state)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *snapshot) Release() {}
