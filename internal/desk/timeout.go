package desk

import (
	"context"
	"time"
)

// WithTimeout bounds every call on s by d, independent of the caller's
// deadline. d <= 0 returns s unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, d: d}
}

type timeoutStore struct {
	next Store
	d    time.Duration
}

func (s *timeoutStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.d)
}

func (s *timeoutStore) FindOrganizationByExternalID(ctx context.Context, workspaceID string) (Organization, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.FindOrganizationByExternalID(ctx, workspaceID)
}

func (s *timeoutStore) InsertOrganization(ctx context.Context, org Organization) (Organization, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.InsertOrganization(ctx, org)
}

func (s *timeoutStore) UpdateOrganization(ctx context.Context, org Organization) (Organization, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.UpdateOrganization(ctx, org)
}

func (s *timeoutStore) FindAccountByExternalID(ctx context.Context, organizationID, externalUserID string) (Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.FindAccountByExternalID(ctx, organizationID, externalUserID)
}

func (s *timeoutStore) FindAccountByAuthUserID(ctx context.Context, organizationID, authUserID string) (Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.FindAccountByAuthUserID(ctx, organizationID, authUserID)
}

func (s *timeoutStore) InsertAccount(ctx context.Context, acc Account) (Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.InsertAccount(ctx, acc)
}

func (s *timeoutStore) UpdateAccount(ctx context.Context, acc Account) (Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.UpdateAccount(ctx, acc)
}

func (s *timeoutStore) CreateTicket(ctx context.Context, t NewTicket) (Ticket, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.CreateTicket(ctx, t)
}

func (s *timeoutStore) FindTicketBySourceRef(ctx context.Context, organizationID, sourceRef string) (Ticket, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.FindTicketBySourceRef(ctx, organizationID, sourceRef)
}

func (s *timeoutStore) TicketByID(ctx context.Context, id string) (Ticket, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.TicketByID(ctx, id)
}

func (s *timeoutStore) UpdateTicketThreadRef(ctx context.Context, ticketID, channelID, threadTS string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.UpdateTicketThreadRef(ctx, ticketID, channelID, threadTS)
}

func (s *timeoutStore) AddComment(ctx context.Context, c Comment) (Comment, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.AddComment(ctx, c)
}

func (s *timeoutStore) ConsumeNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.ConsumeNonce(ctx, nonce, expiresAt)
}

func (s *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.next.Ping(ctx)
}
