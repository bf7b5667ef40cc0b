package core

import (
	"errors"
	"time"

	"github.com/mohammad-safakhou/deepsearch/internal/agent/status"
)

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one immutable conversation entry
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PipelineState is the orchestrator's top-level state
type PipelineState string

const (
	StateIdle            PipelineState = "idle"
	StatePlanning        PipelineState = "planning"
	StateDerivingQueries PipelineState = "deriving_queries"
	StateSearching       PipelineState = "searching"
	StateSynthesizing    PipelineState = "synthesizing"
	StateDone            PipelineState = "done"
	StateFailed          PipelineState = "failed"
)

// PlaceholderResult replaces the result of a failed fan-out branch
const PlaceholderResult = "Error fetching data for this query."

// ErrorTurnPrefix opens the model turn appended when a run fails
const ErrorTurnPrefix = "Sorry, an error occurred while processing your request."

var (
	ErrEmptyQuery        = errors.New("query is empty")
	ErrMissingCredential = errors.New("API key is required")
	ErrRunInProgress     = errors.New("a research run is already in progress")
	ErrRunDiscarded      = errors.New("run discarded by reset")
	ErrInvalidDerivation = errors.New("invalid query derivation input")
)

// SearchOutcome pairs a derived query with its grounded result or the placeholder.
type SearchOutcome struct {
	Query  string `json:"query"`
	Result string `json:"result"`
	Err    error  `json:"-"`
}

// Failed reports whether the branch fell back to the placeholder
func (o SearchOutcome) Failed() bool { return o.Err != nil }

// RunRequest carries the per-run inputs. Credential and Model are snapshotted at start.
type RunRequest struct {
	Query      string
	Credential string
	Model      string
}

// RunResult is the transient aggregate of one pipeline run
type RunResult struct {
	RunID      string          `json:"run_id"`
	Query      string          `json:"query"`
	Model      string          `json:"model"`
	Plan       string          `json:"plan,omitempty"`
	Queries    []string        `json:"queries,omitempty"`
	Outcomes   []SearchOutcome `json:"outcomes,omitempty"`
	Answer     string          `json:"answer,omitempty"`
	State      PipelineState   `json:"state"`
	Err        error           `json:"-"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Progress receives stage and branch lifecycle updates. *status.Tracker implements it.
type Progress interface {
	Add(id, label string, state status.State)
	Update(id, label string, state status.State) bool
	SetItems(id string, items []string)
}

type noopProgress struct{}

func (noopProgress) Add(string, string, status.State)         {}
func (noopProgress) Update(string, string, status.State) bool { return false }
func (noopProgress) SetItems(string, []string)                {}
