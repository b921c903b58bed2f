package server

import (
	"doerline/internal/domain"
	"doerline/internal/lifecycle"
)

// Request payloads

type LoginRequest struct {
	ActorID  string `json:"actor_id"`
	Password string `json:"password"`
}

type AvailabilityRequest struct {
	Available bool `json:"available"`
}

type SetPasswordRequest struct {
	// ActorID defaults to the caller; only the system may set another actor's password.
	ActorID  string `json:"actor_id,omitempty"`
	Password string `json:"password"`
}

type CreateActorRequest struct {
	ID          string `json:"id"`
	Role        string `json:"role" enum:"doer,supervisor,client,system"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password,omitempty"`
	Available   bool   `json:"available,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

type CreateProjectRequest struct {
	Title       string `json:"title"`
	Subject     string `json:"subject,omitempty"`
	Description string `json:"description,omitempty"`
	WordCount   *int   `json:"word_count,omitempty"`
	PageCount   *int   `json:"page_count,omitempty"`
	Deadline    string `json:"deadline,omitempty" format:"date-time"`
	// ClientID lets the system submit on a client's behalf.
	ClientID string `json:"client_id,omitempty"`
	Draft    bool   `json:"draft,omitempty"`
}

type QuoteProjectRequest struct {
	UserQuote            *int64 `json:"user_quote,omitempty"`
	DoerPayout           *int64 `json:"doer_payout,omitempty"`
	SupervisorCommission *int64 `json:"supervisor_commission,omitempty"`
	PlatformFee          *int64 `json:"platform_fee,omitempty"`
}

type ConfirmPaymentRequest struct {
	Reference string `json:"reference"`
}

type AssignDoerRequest struct {
	DoerID string `json:"doer_id"`
}

type DeliverableRequest struct {
	FileName  string `json:"file_name"`
	FileURL   string `json:"file_url"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	IsFinal   bool   `json:"is_final,omitempty"`
}

type ReviewQCRequest struct {
	Status string `json:"status" enum:"qc_in_progress,qc_approved,qc_rejected,delivered"`
	Note   string `json:"note,omitempty"`
}

type RevisionRequest struct {
	Feedback string `json:"feedback"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
	Refund bool   `json:"refund,omitempty"`
}

type SendMessageRequest struct {
	Body string `json:"body"`
}

type QuotePreviewRequest struct {
	WordCount *int   `json:"word_count,omitempty"`
	PageCount *int   `json:"page_count,omitempty"`
	Deadline  string `json:"deadline,omitempty" format:"date-time"`
}

type AutoApproveRequest struct {
	// WindowHours defaults to 72.
	WindowHours int `json:"window_hours,omitempty"`
}

// Responses

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at" format:"date-time"`
	Actor     domain.Actor `json:"actor"`
}

type APIKeyCreatedResponse struct {
	Key domain.APIKey `json:"key"`
	// Secret is only ever returned here.
	Secret string `json:"secret"`
}

type ProjectListResponse struct {
	Items      []domain.Project `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type ActionsResponse struct {
	ProjectID string             `json:"project_id"`
	Actions   []lifecycle.Status `json:"actions"`
}

type MessageListResponse struct {
	Items      []domain.ChatMessage `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type EventListResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type AutoApproveResponse struct {
	Items []domain.Project `json:"items"`
}
