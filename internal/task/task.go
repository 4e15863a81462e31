package task

import (
	"encoding/json"
	"time"
)

// Status is the outcome carried by an Envelope.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

const (
	// IDTimeLayout is the UTC timestamp layout embedded in task and batch ids.
	IDTimeLayout = "20060102_150405"

	DefaultBatchAgent = "BatchProcessor"
)

// Task is one unit of work submitted by an agent. It is treated as a value:
// the dispatcher only ever fills ID on its own copy.
type Task struct {
	AgentName string         `json:"agent_name"`
	TaskType  string         `json:"task_type"`
	Content   map[string]any `json:"content"`
	ID        string         `json:"task_id,omitempty"`
	Priority  string         `json:"priority"`
	Context   string         `json:"context"`
}

// WithID returns a copy of t carrying id.
func (t Task) WithID(id string) Task {
	t.ID = id
	return t
}

// Request is the inbound JSON body of the agent routes and of each batch
// item. Pointer fields distinguish a missing key from an explicit value.
type Request struct {
	AgentName *string        `json:"agent_name,omitempty"`
	TaskType  *string        `json:"task_type,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
	TaskID    *string        `json:"task_id,omitempty"`
	Priority  *string        `json:"priority,omitempty"`
	Context   *string        `json:"context,omitempty"`
}

// BatchRequest is the body of the batch route.
type BatchRequest struct {
	Tasks []Request `json:"tasks"`
}

// Profile holds the per-route agent and defaults.
type Profile struct {
	Agent    string
	TaskType string
	Priority string
	Context  string
	// AgentFromRequest lets the request body name the agent, falling back
	// to Agent when it does not.
	AgentFromRequest bool
}

var (
	MoniqueProfile = Profile{
		Agent:    "Monique",
		TaskType: "strategic_analysis",
		Priority: "high",
		Context:  "CEO strategic delegation",
	}
	CoordinatorProfile = Profile{
		Agent:    "CoordinatorAI",
		TaskType: "file_management",
		Priority: "medium",
		Context:  "File organization and workspace management",
	}
	PatentProfile = Profile{
		Agent:    "PatentAI",
		TaskType: "patent_analysis",
		Priority: "high",
		Context:  "Patent analysis and IP strategy",
	}
	CFOProfile = Profile{
		Agent:    "CFOAI",
		TaskType: "financial_analysis",
		Priority: "high",
		Context:  "Financial analysis and IP valuation",
	}
	BatchProfile = Profile{
		Agent:            DefaultBatchAgent,
		TaskType:         "batch_analysis",
		Priority:         "medium",
		Context:          "Batch processing operation",
		AgentFromRequest: true,
	}
)

// NewTask applies the profile defaults to req.
func (p Profile) NewTask(req Request) Task {
	t := Task{
		AgentName: p.Agent,
		TaskType:  valueOr(req.TaskType, p.TaskType),
		Content:   req.Content,
		ID:        valueOr(req.TaskID, ""),
		Priority:  valueOr(req.Priority, p.Priority),
		Context:   valueOr(req.Context, p.Context),
	}
	if p.AgentFromRequest {
		t.AgentName = valueOr(req.AgentName, p.Agent)
	}
	if t.Content == nil {
		t.Content = map[string]any{}
	}
	return t
}

func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

// Envelope is the uniform result returned for every task. Status selects
// which of the two wire shapes is emitted.
type Envelope struct {
	TaskID     string    `json:"task_id"`
	Status     Status    `json:"status"`
	Agent      string    `json:"agent"`
	TaskType   string    `json:"task_type"`
	Analysis   string    `json:"claude_analysis,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type successWire struct {
	TaskID     string    `json:"task_id"`
	Status     Status    `json:"status"`
	Agent      string    `json:"agent"`
	TaskType   string    `json:"task_type"`
	Analysis   string    `json:"claude_analysis"`
	Timestamp  time.Time `json:"timestamp"`
	TokensUsed int       `json:"tokens_used"`
}

type failureWire struct {
	TaskID    string    `json:"task_id"`
	Status    Status    `json:"status"`
	Agent     string    `json:"agent"`
	TaskType  string    `json:"task_type"`
	Error     string    `json:"error"`
	ErrorCode string    `json:"error_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON emits only the fields of the envelope's variant.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Status == StatusCompleted {
		return json.Marshal(successWire{
			TaskID:     e.TaskID,
			Status:     e.Status,
			Agent:      e.Agent,
			TaskType:   e.TaskType,
			Analysis:   e.Analysis,
			Timestamp:  e.Timestamp,
			TokensUsed: e.TokensUsed,
		})
	}
	return json.Marshal(failureWire{
		TaskID:    e.TaskID,
		Status:    e.Status,
		Agent:     e.Agent,
		TaskType:  e.TaskType,
		Error:     e.Error,
		ErrorCode: e.ErrorCode,
		Timestamp: e.Timestamp,
	})
}

// Succeeded builds a completed envelope.
func Succeeded(t Task, analysis string, tokens int, now time.Time) Envelope {
	if tokens < 0 {
		tokens = 0
	}
	return Envelope{
		TaskID:     t.ID,
		Status:     StatusCompleted,
		Agent:      t.AgentName,
		TaskType:   t.TaskType,
		Analysis:   analysis,
		TokensUsed: tokens,
		Timestamp:  now.UTC(),
	}
}

// Failed builds an error envelope.
func Failed(t Task, code, message string, now time.Time) Envelope {
	return Envelope{
		TaskID:    t.ID,
		Status:    StatusError,
		Agent:     t.AgentName,
		TaskType:  t.TaskType,
		Error:     message,
		ErrorCode: code,
		Timestamp: now.UTC(),
	}
}

// BatchEnvelope is the response of the batch route.
type BatchEnvelope struct {
	BatchID    string     `json:"batch_id"`
	TotalTasks int        `json:"total_tasks"`
	Results    []Envelope `json:"results"`
	Timestamp  time.Time  `json:"timestamp"`
}

// BatchID formats the batch identifier for now.
func BatchID(now time.Time) string {
	return "BATCH_" + now.UTC().Format(IDTimeLayout)
}
