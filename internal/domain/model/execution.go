package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tigerroll/taxiemissions/internal/support/logger"

	"github.com/google/uuid"
)

// BatchStatus represents the state of a job or step execution.
type BatchStatus string

const (
	BatchStatusStarting  BatchStatus = "STARTING"
	BatchStatusStarted   BatchStatus = "STARTED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusStopped   BatchStatus = "STOPPED"
)

func (s BatchStatus) String() string {
	return string(s)
}

// IsFinished reports whether the status is terminal.
func (s BatchStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped:
		return true
	default:
		return false
	}
}

// ExitStatus represents the outcome reported by a finished execution.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	// ExitStatusNoOp marks a step that found nothing to do, e.g. a load where every table existed.
	ExitStatusNoOp ExitStatus = "NOOP"
)

func (s ExitStatus) String() string {
	return string(s)
}

// StringList is a list of strings stored as a JSON array.
type StringList []string

// Value implements the `driver.Valuer` interface, converting the list to a JSON string.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a StringList.
func (l *StringList) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for StringList: %T", value)
	}
	if len(b) == 0 {
		*l = StringList{}
		return nil
	}
	if err := json.Unmarshal(b, l); err != nil {
		return fmt.Errorf("failed to unmarshal StringList JSON: %w", err)
	}
	return nil
}

// ExecutionContext is a key-value store that carries a step's results to the job.
// Values must be JSON-serializable; the context is persisted with the execution.
type ExecutionContext map[string]interface{}

// NewExecutionContext creates an empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Put stores value under key.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get returns the value stored under key.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

// Value implements the `driver.Valuer` interface, converting the ExecutionContext to a JSON string.
func (ec ExecutionContext) Value() (driver.Value, error) {
	if ec == nil {
		return "{}", nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to an ExecutionContext.
func (ec *ExecutionContext) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*ec = NewExecutionContext()
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ExecutionContext: %T", value)
	}
	if len(b) == 0 {
		*ec = NewExecutionContext()
		return nil
	}
	if err := json.Unmarshal(b, ec); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
	}
	return nil
}

// JobExecution is a single run of the pipeline over a selection of stages.
type JobExecution struct {
	ID               string
	JobName          string
	Stages           StringList
	Status           BatchStatus
	ExitStatus       ExitStatus
	Failures         StringList
	CreateTime       time.Time
	StartTime        *time.Time
	EndTime          *time.Time
	LastUpdated      time.Time
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
}

// StepExecution is a single run of one stage within a JobExecution.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecution     *JobExecution
	JobExecutionID   string
	Status           BatchStatus
	ExitStatus       ExitStatus
	Failures         StringList
	StartTime        *time.Time
	EndTime          *time.Time
	LastUpdated      time.Time
	ExecutionContext ExecutionContext
	// WriteCount is the number of rows in the tables this step produced.
	WriteCount int64
}

// NewID generates a new execution ID.
func NewID() string {
	return uuid.New().String()
}

// NewJobExecution creates a JobExecution in STARTING state.
func NewJobExecution(jobName string, stages []string) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobName:          jobName,
		Stages:           append(StringList{}, stages...),
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         StringList{},
		CreateTime:       now,
		LastUpdated:      now,
		ExecutionContext: NewExecutionContext(),
	}
}

// NewStepExecution creates a StepExecution in STARTING state and attaches it to jobExecution.
func NewStepExecution(jobExecution *JobExecution, stepName string) *StepExecution {
	se := &StepExecution{
		ID:               NewID(),
		StepName:         stepName,
		JobExecution:     jobExecution,
		JobExecutionID:   jobExecution.ID,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         StringList{},
		LastUpdated:      time.Now(),
		ExecutionContext: NewExecutionContext(),
	}
	jobExecution.StepExecutions = append(jobExecution.StepExecutions, se)
	return se
}

// isValidTransition checks a status change; job and step executions share one state machine.
func isValidTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped
	case BatchStatusStarted:
		return next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped
	default:
		return false
	}
}

func transition(kind, id string, current *BatchStatus, next BatchStatus) {
	if !isValidTransition(*current, next) {
		logger.Warnf("%s (ID: %s): invalid state transition %s -> %s, forcing.", kind, id, *current, next)
	}
	*current = next
}

// MarkAsStarted updates the JobExecution status to STARTED.
func (je *JobExecution) MarkAsStarted() {
	transition("JobExecution", je.ID, &je.Status, BatchStatusStarted)
	now := time.Now()
	je.StartTime = &now
	je.LastUpdated = now
}

// MarkAsCompleted updates the JobExecution status to COMPLETED.
func (je *JobExecution) MarkAsCompleted() {
	transition("JobExecution", je.ID, &je.Status, BatchStatusCompleted)
	je.ExitStatus = ExitStatusCompleted
	je.finish()
}

// MarkAsFailed updates the JobExecution status to FAILED and adds error information.
func (je *JobExecution) MarkAsFailed(err error) {
	transition("JobExecution", je.ID, &je.Status, BatchStatusFailed)
	je.ExitStatus = ExitStatusFailed
	je.AddFailure(err)
	je.finish()
}

// MarkAsStopped updates the JobExecution status to STOPPED.
func (je *JobExecution) MarkAsStopped() {
	transition("JobExecution", je.ID, &je.Status, BatchStatusStopped)
	je.ExitStatus = ExitStatusStopped
	je.finish()
}

func (je *JobExecution) finish() {
	now := time.Now()
	je.EndTime = &now
	je.LastUpdated = now
}

// AddFailure records err on the JobExecution, skipping duplicates.
func (je *JobExecution) AddFailure(err error) {
	je.Failures = appendFailure(je.Failures, err)
	je.LastUpdated = time.Now()
}

// MarkAsStarted updates the StepExecution status to STARTED.
func (se *StepExecution) MarkAsStarted() {
	transition("StepExecution", se.ID, &se.Status, BatchStatusStarted)
	now := time.Now()
	se.StartTime = &now
	se.LastUpdated = now
}

// MarkAsCompleted updates the StepExecution status to COMPLETED.
// An exit status already set by the tasklet (e.g. NOOP) is kept.
func (se *StepExecution) MarkAsCompleted() {
	transition("StepExecution", se.ID, &se.Status, BatchStatusCompleted)
	if se.ExitStatus == ExitStatusUnknown || se.ExitStatus == "" {
		se.ExitStatus = ExitStatusCompleted
	}
	se.finish()
}

// MarkAsFailed updates the StepExecution status to FAILED and adds error information.
func (se *StepExecution) MarkAsFailed(err error) {
	transition("StepExecution", se.ID, &se.Status, BatchStatusFailed)
	se.ExitStatus = ExitStatusFailed
	se.Failures = appendFailure(se.Failures, err)
	se.finish()
}

// MarkAsStopped updates the StepExecution status to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	transition("StepExecution", se.ID, &se.Status, BatchStatusStopped)
	se.ExitStatus = ExitStatusStopped
	se.finish()
}

func (se *StepExecution) finish() {
	now := time.Now()
	se.EndTime = &now
	se.LastUpdated = now
}

// Duration returns the elapsed time of a started execution.
func (se *StepExecution) Duration() time.Duration {
	if se.StartTime == nil {
		return 0
	}
	end := time.Now()
	if se.EndTime != nil {
		end = *se.EndTime
	}
	return end.Sub(*se.StartTime)
}

func appendFailure(list StringList, err error) StringList {
	if err == nil {
		return list
	}
	msg := err.Error()
	for _, existing := range list {
		if existing == msg {
			return list
		}
	}
	return append(list, msg)
}
