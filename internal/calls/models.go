package calls

import "time"

// CallRecord is the single durable entity of this service: one row per voice
// session, keyed by the externally assigned session id.
//
// Tenancy invariant: TenantID is set by whichever event creates the record
// and is never overwritten by later events. Events that race ahead of
// /start create the record with an empty TenantID; such orphan records are
// excluded from tenant aggregation until retention cleans them up.
type CallRecord struct {
	SessionID string `json:"session_id" db:"session_id"`
	TenantID  string `json:"tenant_id,omitempty" db:"tenant_id"`

	From string `json:"from,omitempty" db:"from_address"`
	To   string `json:"to,omitempty" db:"to_address"`

	Status CallStatus `json:"status" db:"status"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds stays nil until a terminal event supplies it.
	DurationSeconds *int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	Transcript []TranscriptEntry `json:"transcript"`
	ToolEvents []ToolEvent       `json:"tools_used"`

	Usage Usage `json:"usage"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasTurn reports whether a transcript entry with this idempotency key was
// already appended.
func (r *CallRecord) HasTurn(turnID string) bool {
	for _, e := range r.Transcript {
		if e.TurnID != "" && e.TurnID == turnID {
			return true
		}
	}
	return false
}

// HasToolEvent reports whether a tool event with this idempotency key was
// already appended.
func (r *CallRecord) HasToolEvent(eventID string) bool {
	for _, e := range r.ToolEvents {
		if e.EventID != "" && e.EventID == eventID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate shared state.
func (r CallRecord) Clone() CallRecord {
	out := r
	out.Transcript = append([]TranscriptEntry(nil), r.Transcript...)
	out.ToolEvents = append([]ToolEvent(nil), r.ToolEvents...)
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	if r.DurationSeconds != nil {
		d := *r.DurationSeconds
		out.DurationSeconds = &d
	}
	return out
}

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusInitiated, CallStatusInProgress, CallStatusCompleted, CallStatusFailed:
		return true
	default:
		return false
	}
}

type SpeakerRole string

const (
	SpeakerRoleCaller SpeakerRole = "caller"
	SpeakerRoleAgent  SpeakerRole = "agent"
)

func (r SpeakerRole) Valid() bool {
	return r == SpeakerRoleCaller || r == SpeakerRoleAgent
}

// TranscriptEntry is one turn of the conversation. TurnID is the caller
// supplied idempotency key; entries without one cannot be deduplicated.
type TranscriptEntry struct {
	TurnID    string      `json:"turn_id,omitempty" db:"turn_id"`
	Role      SpeakerRole `json:"role" db:"role"`
	Text      string      `json:"text" db:"text"`
	Timestamp time.Time   `json:"timestamp" db:"ts"`
}

// ToolEvent records one tool invocation during the call.
type ToolEvent struct {
	EventID   string    `json:"event_id,omitempty" db:"event_id"`
	Name      string    `json:"name" db:"name"`
	Success   bool      `json:"success" db:"success"`
	Timestamp time.Time `json:"timestamp" db:"ts"`
}

// Usage holds cumulative resource counters for a call.
// Counters only ever increase; deltas are validated as non-negative before
// they reach the store.
type Usage struct {
	Tokens     int64   `json:"tokens" db:"usage_tokens"`
	Characters int64   `json:"characters" db:"usage_characters"`
	Seconds    float64 `json:"seconds" db:"usage_seconds"`
}
