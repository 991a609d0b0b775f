package desk

import (
	"strings"
	"time"
)

// Plan is an organization's subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Role is an account's permission level inside its organization.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// Priority of a ticket.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority matches s case-insensitively against the known priorities.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	}
	return "", false
}

// Status of a ticket.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// Organization is the internal tenant mapped to one Slack workspace.
type Organization struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Plan                Plan      `json:"plan"`
	ExternalWorkspaceID string    `json:"external_workspace_id"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Account is an internal user mapped to one Slack user within an organization.
type Account struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	ExternalUserID string    `json:"external_user_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	AuthUserID     string    `json:"auth_user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Ticket is a support request.
type Ticket struct {
	ID             string    `json:"id"`
	Number         int64     `json:"number"`
	OrganizationID string    `json:"organization_id"`
	RequesterID    string    `json:"requester_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Priority       Priority  `json:"priority"`
	Status         Status    `json:"status"`
	SourceChannel  string    `json:"source_channel,omitempty"`
	SourceRef      string    `json:"source_ref,omitempty"`
	ThreadTS       string    `json:"thread_ts,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewTicket carries what the gateway supplies when creating a ticket.
// SourceRef, when set, is unique per organization.
type NewTicket struct {
	OrganizationID string
	RequesterID    string
	Title          string
	Description    string
	Priority       Priority
	SourceChannel  string
	SourceRef      string
}

// Validate checks the fields every store requires.
func (n NewTicket) Validate() error {
	if strings.TrimSpace(n.OrganizationID) == "" || strings.TrimSpace(n.RequesterID) == "" {
		return ErrInvalidInput
	}
	if strings.TrimSpace(n.Title) == "" {
		return ErrInvalidInput
	}
	if _, ok := ParsePriority(string(n.Priority)); !ok {
		return ErrInvalidInput
	}
	return nil
}

// Comment is a note attached to a ticket.
type Comment struct {
	ID           string    `json:"id"`
	TicketID     string    `json:"ticket_id"`
	AuthorAuthID string    `json:"author_auth_id"`
	Content      string    `json:"content"`
	IsInternal   bool      `json:"is_internal"`
	CreatedAt    time.Time `json:"created_at"`
}
