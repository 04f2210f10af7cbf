// Package domain defines core entities, state machine, and domain errors
// for the workflow orchestrator.
package domain

import "time"

// EventSource identifies the service and instance that published an event.
type EventSource struct {
	Service  string `json:"service"`
	Instance string `json:"instance"`
}

// EventEnvelope is the wire shape every published message carries, per
// the event_envelope.v1 schema.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	Timestamp     string          `json:"timestamp"`
	Source        EventSource     `json:"source"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   *string         `json:"causation_id"`
	Payload       map[string]any  `json:"payload"`
}

// BacklogStatus is the finite set of states a BacklogItem may occupy.
type BacklogStatus string

// Backlog status values.
const (
	BacklogCreated    BacklogStatus = "CREATED"
	BacklogReady      BacklogStatus = "READY"
	BacklogBlocked    BacklogStatus = "BLOCKED"
	BacklogInProgress BacklogStatus = "IN_PROGRESS"
	BacklogDone       BacklogStatus = "DONE"
	BacklogFailed     BacklogStatus = "FAILED"
)

// BacklogItem is a unit of work tracked by the orchestrator.
type BacklogItem struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      BacklogStatus  `json:"status"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

// AnswerType enumerates the accepted shapes of a Question's answer.
type AnswerType string

// Recognized answer types.
const (
	AnswerText   AnswerType = "text"
	AnswerNumber AnswerType = "number"
	AnswerJSON   AnswerType = "json"
	AnswerChoice AnswerType = "choice"
)

// QuestionStatus is the lifecycle state of a Question.
type QuestionStatus string

// Question status values.
const (
	QuestionOpen   QuestionStatus = "OPEN"
	QuestionClosed QuestionStatus = "CLOSED"
)

// Question is a clarification request linked to a backlog item.
type Question struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	BacklogItemID string         `json:"backlog_item_id"`
	QuestionText  string         `json:"question_text"`
	AnswerType    AnswerType     `json:"answer_type"`
	Status        QuestionStatus `json:"status"`
	CorrelationID string         `json:"correlation_id"`
}

// ProjectStatus is the derived lifecycle state of a Project.
type ProjectStatus string

// Project status values.
const (
	ProjectCreated        ProjectStatus = "CREATED"
	ProjectInProgress     ProjectStatus = "IN_PROGRESS"
	ProjectAwaitingInput  ProjectStatus = "AWAITING_INPUT"
	ProjectCompleted      ProjectStatus = "COMPLETED"
	ProjectFailed         ProjectStatus = "FAILED"
)

// Project is the aggregate root clients ask about; its status is derived
// from the backlog item status indexes, not stored authoritatively.
type Project struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Description          string            `json:"description"`
	Status               ProjectStatus     `json:"status"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Requester            string            `json:"requester"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CompletionPercentage float64           `json:"completion_percentage"`
	BlockedItems         int               `json:"blocked_items"`
}

// Interaction is one append-only entry in a project's interaction log.
type Interaction struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// CustomerMessage is one append-only entry in a project's customer
// message log. Read/unread state is not a field here: ProjectStore keeps
// it in a separate unread-message set.
type CustomerMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Body      string    `json:"body"`
}

// AttemptMeta tracks per-(consumer_group, message_id) delivery attempts.
type AttemptMeta struct {
	Attempts    int64  `json:"attempts"`
	FirstSeenAt string `json:"first_seen_at"`
	LastSeenAt  string `json:"last_seen_at"`
}

// DLQDocument is the structured failure record appended to the DLQ stream.
type DLQDocument struct {
	ID             string         `json:"id"`
	Timestamp      string         `json:"timestamp"`
	EventID        string         `json:"event_id,omitempty"`
	EventType      string         `json:"event_type,omitempty"`
	Reason         string         `json:"reason"`
	SchemaID       string         `json:"schema_id,omitempty"`
	ConsumerGroup  string         `json:"consumer_group,omitempty"`
	Attempts       int64          `json:"attempts,omitempty"`
	FirstSeenAt    string         `json:"first_seen_at,omitempty"`
	LastSeenAt     string         `json:"last_seen_at,omitempty"`
	ErrorClass     string         `json:"error_class,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	StackTrace     string         `json:"stack_trace,omitempty"`
	OriginalEvent  map[string]any `json:"original_event,omitempty"`
	OriginalFields map[string]any `json:"original_fields"`
}

// Fact is one declarative claim attached to a backlog item's completion
// evidence, carrying its source provenance (row id and originating field
// names, for facts the grounding engine extracted from input rows).
type Fact struct {
	ID         string         `json:"id"`
	Field      string         `json:"field"`
	Value      any            `json:"value"`
	Provenance map[string]any `json:"provenance,omitempty"`
}

// FactLedgerEntry is one line of a project's append-only fact ledger.
type FactLedgerEntry struct {
	ProjectID     string         `json:"project_id"`
	BacklogItemID string         `json:"backlog_item_id"`
	Facts         []Fact         `json:"facts"`
	Coefficients  map[string]any `json:"coefficients,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Deliverable is the artifact a worker publishes on successful completion.
type Deliverable struct {
	Type          string    `json:"type"`
	Content       any       `json:"content"`
	Timestamp     string    `json:"timestamp"`
	Confidence    float64   `json:"confidence"`
	ProjectID     string    `json:"project_id"`
	BacklogItemID string    `json:"backlog_item_id"`
}
