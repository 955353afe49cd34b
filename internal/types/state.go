package types

import "time"

// JobStatus is the lifecycle of one multiplication run in the ledger.
type JobStatus string

const (
	JobSubmitted JobStatus = "submitted"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRecord describes one run of the pipeline.
type JobRecord struct {
	ID          string    `json:"id"`
	MatrixSize  int       `json:"matrix_size"`
	Workers     int       `json:"workers"`
	NumMappers  int       `json:"num_mappers"`
	NumReducers int       `json:"num_reducers"`
	InputA      string    `json:"input_a,omitempty"`
	InputB      string    `json:"input_b,omitempty"`
	Output      string    `json:"output,omitempty"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	Submitted   time.Time `json:"submitted"`
	Finished    time.Time `json:"finished,omitempty"`
}

// LedgerState is the replicated job table.
type LedgerState struct {
	Jobs    map[string]*JobRecord `json:"jobs"`
	Leader  string                `json:"-"` // filled in when read, not replicated
	Version int64                 `json:"version"`
}

// LogEntry is an entry in the Raft log.
type LogEntry struct {
	Operation string    `json:"operation"` // "submit", "complete", "fail"
	Job       JobRecord `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}
