package desk

import (
	"context"
	"strings"
	"sync"
	"time"

	"deskbridge.io/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It enforces
// the same uniqueness rules as the Postgres schema.
type InMemory struct {
	mu sync.RWMutex

	orgs       map[string]*Organization // id -> org
	orgByExt   map[string]string        // workspace id -> org id
	accts      map[string]*Account      // id -> account
	acctByExt  map[[2]string]string     // (org id, external user id) -> account id
	tickets    map[string]*Ticket       // id -> ticket
	ticketRefs map[[2]string]string     // (org id, source ref) -> ticket id
	comments   map[string][]Comment     // ticket id -> comments
	nonces     map[string]time.Time
	seq        int64
	now        func() time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		orgs:       make(map[string]*Organization),
		orgByExt:   make(map[string]string),
		accts:      make(map[string]*Account),
		acctByExt:  make(map[[2]string]string),
		tickets:    make(map[string]*Ticket),
		ticketRefs: make(map[[2]string]string),
		comments:   make(map[string][]Comment),
		nonces:     make(map[string]time.Time),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) FindOrganizationByExternalID(ctx context.Context, workspaceID string) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.orgByExt[workspaceID]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return *s.orgs[id], nil
}

func (s *InMemory) InsertOrganization(ctx context.Context, org Organization) (Organization, error) {
	if strings.TrimSpace(org.ExternalWorkspaceID) == "" {
		return Organization{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orgByExt[org.ExternalWorkspaceID]; exists {
		return Organization{}, ErrConflict
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	if org.Plan == "" {
		org.Plan = PlanFree
	}
	now := s.now()
	org.CreatedAt, org.UpdatedAt = now, now
	s.orgs[org.ID] = &org
	s.orgByExt[org.ExternalWorkspaceID] = org.ID
	return org, nil
}

func (s *InMemory) UpdateOrganization(ctx context.Context, org Organization) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orgs[org.ID]
	if !ok {
		return Organization{}, ErrNotFound
	}
	cur.Name = org.Name
	if org.Plan != "" {
		cur.Plan = org.Plan
	}
	cur.UpdatedAt = s.now()
	return *cur, nil
}

func (s *InMemory) FindAccountByExternalID(ctx context.Context, organizationID, externalUserID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.acctByExt[[2]string{organizationID, externalUserID}]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *s.accts[id], nil
}

func (s *InMemory) FindAccountByAuthUserID(ctx context.Context, organizationID, authUserID string) (Account, error) {
	if authUserID == "" {
		return Account{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Account
	for _, acc := range s.accts {
		if acc.OrganizationID != organizationID || acc.AuthUserID != authUserID {
			continue
		}
		if found == nil || acc.CreatedAt.Before(found.CreatedAt) {
			found = acc
		}
	}
	if found == nil {
		return Account{}, ErrNotFound
	}
	return *found, nil
}

func (s *InMemory) InsertAccount(ctx context.Context, acc Account) (Account, error) {
	if strings.TrimSpace(acc.OrganizationID) == "" || strings.TrimSpace(acc.ExternalUserID) == "" {
		return Account{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[acc.OrganizationID]; !ok {
		return Account{}, ErrNotFound
	}
	key := [2]string{acc.OrganizationID, acc.ExternalUserID}
	if _, exists := s.acctByExt[key]; exists {
		return Account{}, ErrConflict
	}
	if acc.ID == "" {
		acc.ID = ids.New()
	}
	if acc.Role == "" {
		acc.Role = RoleUser
	}
	now := s.now()
	acc.CreatedAt, acc.UpdatedAt = now, now
	s.accts[acc.ID] = &acc
	s.acctByExt[key] = acc.ID
	return acc, nil
}

func (s *InMemory) UpdateAccount(ctx context.Context, acc Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accts[acc.ID]
	if !ok {
		return Account{}, ErrNotFound
	}
	cur.Name = acc.Name
	cur.Email = acc.Email
	cur.AuthUserID = acc.AuthUserID
	if acc.Role != "" {
		cur.Role = acc.Role
	}
	cur.UpdatedAt = s.now()
	return *cur, nil
}

func (s *InMemory) CreateTicket(ctx context.Context, in NewTicket) (Ticket, error) {
	if err := in.Validate(); err != nil {
		return Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[in.OrganizationID]; !ok {
		return Ticket{}, ErrNotFound
	}
	if _, ok := s.accts[in.RequesterID]; !ok {
		return Ticket{}, ErrNotFound
	}
	if in.SourceRef != "" {
		if _, exists := s.ticketRefs[[2]string{in.OrganizationID, in.SourceRef}]; exists {
			return Ticket{}, ErrConflict
		}
	}
	s.seq++
	now := s.now()
	t := &Ticket{
		ID:             ids.New(),
		Number:         s.seq,
		OrganizationID: in.OrganizationID,
		RequesterID:    in.RequesterID,
		Title:          in.Title,
		Description:    in.Description,
		Priority:       in.Priority,
		Status:         StatusOpen,
		SourceChannel:  in.SourceChannel,
		SourceRef:      in.SourceRef,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.tickets[t.ID] = t
	if in.SourceRef != "" {
		s.ticketRefs[[2]string{in.OrganizationID, in.SourceRef}] = t.ID
	}
	return *t, nil
}

func (s *InMemory) FindTicketBySourceRef(ctx context.Context, organizationID, sourceRef string) (Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ticketRefs[[2]string{organizationID, sourceRef}]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return *s.tickets[id], nil
}

func (s *InMemory) TicketByID(ctx context.Context, id string) (Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemory) UpdateTicketThreadRef(ctx context.Context, ticketID, channelID, threadTS string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return ErrNotFound
	}
	if channelID != "" {
		t.SourceChannel = channelID
	}
	t.ThreadTS = threadTS
	t.UpdatedAt = s.now()
	return nil
}

func (s *InMemory) AddComment(ctx context.Context, c Comment) (Comment, error) {
	if strings.TrimSpace(c.Content) == "" || strings.TrimSpace(c.AuthorAuthID) == "" {
		return Comment{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[c.TicketID]; !ok {
		return Comment{}, ErrNotFound
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	c.CreatedAt = s.now()
	s.comments[c.TicketID] = append(s.comments[c.TicketID], c)
	return c, nil
}

// Comments returns a copy of the comments stored for ticketID, oldest first.
func (s *InMemory) Comments(ticketID string) []Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Comment(nil), s.comments[ticketID]...)
}

// TicketCount returns how many tickets exist.
func (s *InMemory) TicketCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}

// OrganizationCount returns how many organizations exist.
func (s *InMemory) OrganizationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orgs)
}

func (s *InMemory) ConsumeNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	if strings.TrimSpace(nonce) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for n, exp := range s.nonces {
		if now.After(exp) {
			delete(s.nonces, n)
		}
	}
	if _, used := s.nonces[nonce]; used {
		return ErrConflict
	}
	s.nonces[nonce] = expiresAt
	return nil
}

func (s *InMemory) Ping(ctx context.Context) error {
	return ctx.Err()
}
