package domain

import (
	"time"

	"doerline/internal/lifecycle"
)

// TimeLayout is fixed-width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and RFC3339 values.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

type Project struct {
	ID                   string           `json:"id"`
	Title                string           `json:"title"`
	Subject              string           `json:"subject,omitempty"`
	Description          string           `json:"description,omitempty"`
	ClientID             string           `json:"client_id"`
	Status               lifecycle.Status `json:"status"`
	SupervisorID         *string          `json:"supervisor_id,omitempty"`
	DoerID               *string          `json:"doer_id,omitempty"`
	WordCount            *int             `json:"word_count,omitempty"`
	PageCount            *int             `json:"page_count,omitempty"`
	Deadline             *string          `json:"deadline,omitempty" format:"date-time"`
	UserQuote            *int64           `json:"user_quote,omitempty"`
	DoerPayout           *int64           `json:"doer_payout,omitempty"`
	SupervisorCommission *int64           `json:"supervisor_commission,omitempty"`
	PlatformFee          *int64           `json:"platform_fee,omitempty"`
	PaymentReference     *string          `json:"payment_reference,omitempty"`
	CancelReason         *string          `json:"cancel_reason,omitempty"`
	CreatedAt            string           `json:"created_at" format:"date-time"`
	UpdatedAt            string           `json:"updated_at" format:"date-time"`
	ClaimedAt            *string          `json:"claimed_at,omitempty" format:"date-time"`
	QuotedAt             *string          `json:"quoted_at,omitempty" format:"date-time"`
	PaidAt               *string          `json:"paid_at,omitempty" format:"date-time"`
	DoerAssignedAt       *string          `json:"doer_assigned_at,omitempty" format:"date-time"`
	StartedAt            *string          `json:"started_at,omitempty" format:"date-time"`
	SubmittedAt          *string          `json:"submitted_at,omitempty" format:"date-time"`
	DeliveredAt          *string          `json:"delivered_at,omitempty" format:"date-time"`
	CompletedAt          *string          `json:"completed_at,omitempty" format:"date-time"`
	CancelledAt          *string          `json:"cancelled_at,omitempty" format:"date-time"`
}

// Snapshot returns the fields the status model reads.
func (p Project) Snapshot() lifecycle.Snapshot {
	s := lifecycle.Snapshot{
		Status:       p.Status,
		SupervisorID: deref(p.SupervisorID),
		DoerID:       deref(p.DoerID),
	}
	if p.UserQuote != nil && p.DoerPayout != nil && p.SupervisorCommission != nil && p.PlatformFee != nil {
		s.Quote = &lifecycle.Amounts{
			UserQuote:            *p.UserQuote,
			DoerPayout:           *p.DoerPayout,
			SupervisorCommission: *p.SupervisorCommission,
			PlatformFee:          *p.PlatformFee,
		}
	}
	return s
}

// IsParticipant reports whether actorID is the client, supervisor or doer of p.
func (p Project) IsParticipant(actorID string) bool {
	if actorID == "" {
		return false
	}
	return p.ClientID == actorID || deref(p.SupervisorID) == actorID || deref(p.DoerID) == actorID
}

// DeadlineTime returns the parsed deadline or the zero time.
func (p Project) DeadlineTime() time.Time {
	if p.Deadline == nil || *p.Deadline == "" {
		return time.Time{}
	}
	t, err := ParseTime(*p.Deadline)
	if err != nil {
		return time.Time{}
	}
	return t
}

type Actor struct {
	ID           string         `json:"id"`
	Role         lifecycle.Role `json:"role"`
	DisplayName  string         `json:"display_name,omitempty"`
	Available    bool           `json:"available"`
	PasswordHash string         `json:"-"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Deliverable struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	DoerID    string `json:"doer_id"`
	FileName  string `json:"file_name"`
	FileURL   string `json:"file_url"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	IsFinal   bool   `json:"is_final"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Revision struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	RequestedBy string  `json:"requested_by"`
	Feedback    string  `json:"feedback"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ResolvedAt  *string `json:"resolved_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
