package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"deskbridge.io/internal/desk"
	"deskbridge.io/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements desk.Store on Postgres through the pgx stdlib driver.
type Store struct {
	db *sql.DB
}

var _ desk.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

const orgColumns = `id, name, plan, external_workspace_id, created_at, updated_at`

func scanOrg(row interface{ Scan(...any) error }) (desk.Organization, error) {
	var (
		org  desk.Organization
		plan string
	)
	if err := row.Scan(&org.ID, &org.Name, &plan, &org.ExternalWorkspaceID, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return desk.Organization{}, mapErr(err)
	}
	org.Plan = desk.Plan(plan)
	return org, nil
}

func (s *Store) FindOrganizationByExternalID(ctx context.Context, workspaceID string) (desk.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where external_workspace_id = $1`, workspaceID))
}

func (s *Store) InsertOrganization(ctx context.Context, org desk.Organization) (desk.Organization, error) {
	if strings.TrimSpace(org.ExternalWorkspaceID) == "" {
		return desk.Organization{}, desk.ErrInvalidInput
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	if org.Plan == "" {
		org.Plan = desk.PlanFree
	}
	return scanOrg(s.db.QueryRowContext(ctx, `
		insert into organizations (id, name, plan, external_workspace_id)
		values ($1, $2, $3, $4)
		returning `+orgColumns,
		org.ID, org.Name, string(org.Plan), org.ExternalWorkspaceID))
}

func (s *Store) UpdateOrganization(ctx context.Context, org desk.Organization) (desk.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `
		update organizations
		set name = $2, plan = coalesce(nullif($3, ''), plan), updated_at = now()
		where id = $1
		returning `+orgColumns,
		org.ID, org.Name, string(org.Plan)))
}

const accountColumns = `id, organization_id, external_user_id, name, email, role, auth_user_id, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (desk.Account, error) {
	var (
		acc    desk.Account
		role   string
		authID sql.NullString
	)
	if err := row.Scan(&acc.ID, &acc.OrganizationID, &acc.ExternalUserID, &acc.Name, &acc.Email, &role, &authID, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return desk.Account{}, mapErr(err)
	}
	acc.Role = desk.Role(role)
	if authID.Valid {
		acc.AuthUserID = authID.String
	}
	return acc, nil
}

func (s *Store) FindAccountByExternalID(ctx context.Context, organizationID, externalUserID string) (desk.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where organization_id = $1 and external_user_id = $2`,
		organizationID, externalUserID))
}

func (s *Store) FindAccountByAuthUserID(ctx context.Context, organizationID, authUserID string) (desk.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where organization_id = $1 and auth_user_id = $2
		order by created_at limit 1`,
		organizationID, authUserID))
}

func (s *Store) InsertAccount(ctx context.Context, acc desk.Account) (desk.Account, error) {
	if strings.TrimSpace(acc.OrganizationID) == "" || strings.TrimSpace(acc.ExternalUserID) == "" {
		return desk.Account{}, desk.ErrInvalidInput
	}
	if acc.ID == "" {
		acc.ID = ids.New()
	}
	if acc.Role == "" {
		acc.Role = desk.RoleUser
	}
	return scanAccount(s.db.QueryRowContext(ctx, `
		insert into accounts (id, organization_id, external_user_id, name, email, role, auth_user_id)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+accountColumns,
		acc.ID, acc.OrganizationID, acc.ExternalUserID, acc.Name, acc.Email, string(acc.Role), nullIfEmpty(acc.AuthUserID)))
}

func (s *Store) UpdateAccount(ctx context.Context, acc desk.Account) (desk.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		update accounts
		set name = $2, email = $3, auth_user_id = $4, role = coalesce(nullif($5, ''), role), updated_at = now()
		where id = $1
		returning `+accountColumns,
		acc.ID, acc.Name, acc.Email, nullIfEmpty(acc.AuthUserID), string(acc.Role)))
}

const ticketColumns = `id, ticket_number, organization_id, requester_id, title, description, priority, status,
	coalesce(source_channel, ''), coalesce(source_ref, ''), coalesce(thread_ts, ''), created_at, updated_at`

func scanTicket(row interface{ Scan(...any) error }) (desk.Ticket, error) {
	var (
		t                desk.Ticket
		priority, status string
	)
	if err := row.Scan(&t.ID, &t.Number, &t.OrganizationID, &t.RequesterID, &t.Title, &t.Description, &priority, &status,
		&t.SourceChannel, &t.SourceRef, &t.ThreadTS, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return desk.Ticket{}, mapErr(err)
	}
	t.Priority = desk.Priority(priority)
	t.Status = desk.Status(status)
	return t, nil
}

func (s *Store) CreateTicket(ctx context.Context, in desk.NewTicket) (desk.Ticket, error) {
	if err := in.Validate(); err != nil {
		return desk.Ticket{}, err
	}
	return scanTicket(s.db.QueryRowContext(ctx, `
		insert into tickets (id, organization_id, requester_id, title, description, priority, status, source_channel, source_ref)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+ticketColumns,
		ids.New(), in.OrganizationID, in.RequesterID, in.Title, in.Description, string(in.Priority),
		string(desk.StatusOpen), nullIfEmpty(in.SourceChannel), nullIfEmpty(in.SourceRef)))
}

func (s *Store) FindTicketBySourceRef(ctx context.Context, organizationID, sourceRef string) (desk.Ticket, error) {
	return scanTicket(s.db.QueryRowContext(ctx,
		`select `+ticketColumns+` from tickets where organization_id = $1 and source_ref = $2`,
		organizationID, sourceRef))
}

func (s *Store) TicketByID(ctx context.Context, id string) (desk.Ticket, error) {
	return scanTicket(s.db.QueryRowContext(ctx, `select `+ticketColumns+` from tickets where id = $1`, id))
}

func (s *Store) UpdateTicketThreadRef(ctx context.Context, ticketID, channelID, threadTS string) error {
	res, err := s.db.ExecContext(ctx, `
		update tickets
		set source_channel = coalesce($2, source_channel), thread_ts = $3, updated_at = now()
		where id = $1`,
		ticketID, nullIfEmpty(channelID), nullIfEmpty(threadTS))
	if err != nil {
		return mapErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return desk.ErrNotFound
	}
	return nil
}

func (s *Store) AddComment(ctx context.Context, c desk.Comment) (desk.Comment, error) {
	if strings.TrimSpace(c.Content) == "" || strings.TrimSpace(c.AuthorAuthID) == "" {
		return desk.Comment{}, desk.ErrInvalidInput
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into ticket_comments (id, ticket_id, author_auth_id, content, is_internal)
		values ($1, $2, $3, $4, $5)
		returning created_at`,
		c.ID, c.TicketID, c.AuthorAuthID, c.Content, c.IsInternal).Scan(&c.CreatedAt)
	if err != nil {
		return desk.Comment{}, mapErr(err)
	}
	return c, nil
}

func (s *Store) ConsumeNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	if strings.TrimSpace(nonce) == "" {
		return desk.ErrInvalidInput
	}
	if _, err := s.db.ExecContext(ctx, `delete from link_state_nonces where expires_at < now()`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`insert into link_state_nonces (nonce, expires_at) values ($1, $2)`, nonce, expiresAt.UTC()); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr translates driver errors into desk sentinels.
func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return desk.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return desk.ErrConflict
		case pgErrForeignKeyViolation:
			return desk.ErrNotFound
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
