// Package identity maps Slack workspaces and users onto organizations and
// accounts.
//
// Lookups and inserts run without any in-process lock. Concurrent first
// contacts are settled by the store's uniqueness constraints: the loser of an
// insert race gets desk.ErrConflict and re-reads the winner's row.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"deskbridge.io/internal/audit"
	"deskbridge.io/internal/desk"
)

const (
	defaultOrgName  = "Slack Workspace"
	defaultUserName = "Unknown User"
	fallbackDomain  = "slack.local"
)

// Profile is what is known about a Slack user.
type Profile struct {
	RealName string
	Handle   string
	Email    string
}

// Directory looks up workspace and user details on the chat platform.
type Directory interface {
	TeamName(ctx context.Context, workspaceID string) (string, error)
	UserProfile(ctx context.Context, userID string) (Profile, error)
}

// Reconciler resolves external identities to internal entities.
type Reconciler struct {
	store desk.Store
	dir   Directory
	log   *zap.Logger
	audit *audit.Logger
	count *prometheus.CounterVec
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithDirectory enables best-effort name and email enrichment on first contact.
func WithDirectory(d Directory) Option { return func(r *Reconciler) { r.dir = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Reconciler) { r.log = l } }

// WithAudit records created and linked identities.
func WithAudit(a *audit.Logger) Option { return func(r *Reconciler) { r.audit = a } }

// WithCounter counts outcomes labelled by entity and outcome.
func WithCounter(c *prometheus.CounterVec) Option { return func(r *Reconciler) { r.count = c } }

// NewReconciler returns a Reconciler backed by store.
func NewReconciler(store desk.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) observe(entity, outcome string) {
	if r.count != nil {
		r.count.WithLabelValues(entity, outcome).Inc()
	}
}

func (r *Reconciler) auditEvent(ctx context.Context, event string, fields map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.LogEvent(ctx, event, fields); err != nil {
		r.log.Warn("audit event failed", zap.String("event", event), zap.Error(err))
	}
}

// ResolveOrganization returns the organization for workspaceID, creating it
// on first contact. fallbackName is used when the directory has no name.
func (r *Reconciler) ResolveOrganization(ctx context.Context, workspaceID, fallbackName string) (desk.Organization, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return desk.Organization{}, fmt.Errorf("resolve organization: %w", desk.ErrInvalidInput)
	}

	org, err := r.store.FindOrganizationByExternalID(ctx, workspaceID)
	if err == nil {
		r.observe("organization", "found")
		return org, nil
	}
	if !errors.Is(err, desk.ErrNotFound) {
		return desk.Organization{}, fmt.Errorf("find organization %s: %w", workspaceID, err)
	}

	name := strings.TrimSpace(fallbackName)
	if name == "" && r.dir != nil {
		teamName, derr := r.dir.TeamName(ctx, workspaceID)
		if derr != nil {
			r.log.Warn("team lookup failed", zap.String("workspace_id", workspaceID), zap.Error(derr))
		}
		name = strings.TrimSpace(teamName)
	}
	if name == "" {
		name = defaultOrgName
	}

	org, err = r.store.InsertOrganization(ctx, desk.Organization{
		Name:                name,
		Plan:                desk.PlanFree,
		ExternalWorkspaceID: workspaceID,
	})
	switch {
	case err == nil:
		r.observe("organization", "created")
		r.auditEvent(ctx, "identity.organization_created", map[string]any{
			"organization_id": org.ID,
			"workspace_id":    workspaceID,
		})
		return org, nil
	case errors.Is(err, desk.ErrConflict):
		r.observe("organization", "conflict")
		org, err = r.store.FindOrganizationByExternalID(ctx, workspaceID)
		if err != nil {
			return desk.Organization{}, fmt.Errorf("re-read organization %s after conflict: %w", workspaceID, err)
		}
		return org, nil
	default:
		return desk.Organization{}, fmt.Errorf("insert organization %s: %w", workspaceID, err)
	}
}

// ResolveAccount returns the account for externalUserID within org, creating
// it on first contact. Existing accounts are returned unchanged.
func (r *Reconciler) ResolveAccount(ctx context.Context, org desk.Organization, externalUserID string, fallback Profile) (desk.Account, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" || org.ID == "" {
		return desk.Account{}, fmt.Errorf("resolve account: %w", desk.ErrInvalidInput)
	}

	acc, err := r.store.FindAccountByExternalID(ctx, org.ID, externalUserID)
	if err == nil {
		r.observe("account", "found")
		return acc, nil
	}
	if !errors.Is(err, desk.ErrNotFound) {
		return desk.Account{}, fmt.Errorf("find account %s: %w", externalUserID, err)
	}

	p := r.enrich(ctx, externalUserID, fallback)
	acc, err = r.store.InsertAccount(ctx, desk.Account{
		OrganizationID: org.ID,
		ExternalUserID: externalUserID,
		Name:           displayName(p),
		Email:          emailOrPlaceholder(p.Email, externalUserID),
		Role:           desk.RoleUser,
	})
	switch {
	case err == nil:
		r.observe("account", "created")
		r.auditEvent(ctx, "identity.account_created", map[string]any{
			"organization_id":  org.ID,
			"account_id":       acc.ID,
			"external_user_id": externalUserID,
		})
		return acc, nil
	case errors.Is(err, desk.ErrConflict):
		r.observe("account", "conflict")
		acc, err = r.store.FindAccountByExternalID(ctx, org.ID, externalUserID)
		if err != nil {
			return desk.Account{}, fmt.Errorf("re-read account %s after conflict: %w", externalUserID, err)
		}
		return acc, nil
	default:
		return desk.Account{}, fmt.Errorf("insert account %s: %w", externalUserID, err)
	}
}

// enrich fills blanks in fallback from the directory. Directory errors are
// logged and ignored.
func (r *Reconciler) enrich(ctx context.Context, userID string, fallback Profile) Profile {
	p := Profile{
		RealName: strings.TrimSpace(fallback.RealName),
		Handle:   strings.TrimSpace(fallback.Handle),
		Email:    strings.TrimSpace(fallback.Email),
	}
	if r.dir == nil || (p.RealName != "" && p.Email != "") {
		return p
	}
	found, err := r.dir.UserProfile(ctx, userID)
	if err != nil {
		r.log.Warn("user lookup failed", zap.String("external_user_id", userID), zap.Error(err))
		return p
	}
	if p.RealName == "" {
		p.RealName = strings.TrimSpace(found.RealName)
	}
	if p.Handle == "" {
		p.Handle = strings.TrimSpace(found.Handle)
	}
	if p.Email == "" {
		p.Email = strings.TrimSpace(found.Email)
	}
	return p
}

func displayName(p Profile) string {
	switch {
	case p.RealName != "":
		return p.RealName
	case p.Handle != "":
		return p.Handle
	case p.Email != "":
		local, _, _ := strings.Cut(p.Email, "@")
		if local != "" {
			return local
		}
	}
	return defaultUserName
}

func emailOrPlaceholder(email, userID string) string {
	if email != "" {
		return email
	}
	return userID + "@" + fallbackDomain
}

// UpsertOrganization resolves the workspace and renames the organization
// when the platform reports a different non-empty name.
func (r *Reconciler) UpsertOrganization(ctx context.Context, workspaceID, name string) (desk.Organization, error) {
	org, err := r.ResolveOrganization(ctx, workspaceID, name)
	if err != nil {
		return desk.Organization{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" || name == org.Name {
		return org, nil
	}
	org.Name = name
	updated, err := r.store.UpdateOrganization(ctx, org)
	if err != nil {
		return desk.Organization{}, fmt.Errorf("rename organization %s: %w", org.ID, err)
	}
	return updated, nil
}

// LinkAccount attaches the internal credential authUserID to acc. email
// replaces the stored address only when non-empty.
func (r *Reconciler) LinkAccount(ctx context.Context, acc desk.Account, authUserID, email string) (desk.Account, error) {
	authUserID = strings.TrimSpace(authUserID)
	if authUserID == "" || acc.ID == "" {
		return desk.Account{}, fmt.Errorf("link account: %w", desk.ErrInvalidInput)
	}
	acc.AuthUserID = authUserID
	if email = strings.TrimSpace(email); email != "" {
		acc.Email = email
	}
	updated, err := r.store.UpdateAccount(ctx, acc)
	if err != nil {
		return desk.Account{}, fmt.Errorf("link account %s: %w", acc.ID, err)
	}
	r.auditEvent(ctx, "identity.account_linked", map[string]any{
		"account_id":       updated.ID,
		"organization_id":  updated.OrganizationID,
		"external_user_id": updated.ExternalUserID,
		"auth_user_id":     authUserID,
	})
	return updated, nil
}
