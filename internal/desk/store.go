// Package desk holds the helpdesk entities and the persistence contract the
// Slack gateway depends on.
package desk

import (
	"context"
	"time"
)

// Store is the persistence surface used by the gateway.
//
// Insert methods return ErrConflict when a uniqueness constraint rejects the
// row: one organization per ExternalWorkspaceID, one account per
// (OrganizationID, ExternalUserID), one ticket per (OrganizationID, SourceRef)
// and one use per nonce. Lookups return ErrNotFound when nothing matches.
type Store interface {
	FindOrganizationByExternalID(ctx context.Context, workspaceID string) (Organization, error)
	InsertOrganization(ctx context.Context, org Organization) (Organization, error)
	UpdateOrganization(ctx context.Context, org Organization) (Organization, error)

	FindAccountByExternalID(ctx context.Context, organizationID, externalUserID string) (Account, error)
	// FindAccountByAuthUserID returns the account in organizationID linked to
	// the internal identity authUserID.
	FindAccountByAuthUserID(ctx context.Context, organizationID, authUserID string) (Account, error)
	InsertAccount(ctx context.Context, acc Account) (Account, error)
	UpdateAccount(ctx context.Context, acc Account) (Account, error)

	CreateTicket(ctx context.Context, t NewTicket) (Ticket, error)
	FindTicketBySourceRef(ctx context.Context, organizationID, sourceRef string) (Ticket, error)
	TicketByID(ctx context.Context, id string) (Ticket, error)
	UpdateTicketThreadRef(ctx context.Context, ticketID, channelID, threadTS string) error
	AddComment(ctx context.Context, c Comment) (Comment, error)

	// ConsumeNonce records nonce as used. A second call with the same nonce
	// returns ErrConflict. expiresAt lets stores prune old entries.
	ConsumeNonce(ctx context.Context, nonce string, expiresAt time.Time) error

	Ping(ctx context.Context) error
}
