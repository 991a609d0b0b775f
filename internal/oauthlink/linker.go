// Package oauthlink runs the two Slack OAuth flows: installing the app into
// a workspace and linking a signed-in dashboard user to their Slack identity.
package oauthlink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"deskbridge.io/internal/audit"
	"deskbridge.io/internal/desk"
	"deskbridge.io/internal/identity"
	"deskbridge.io/internal/ids"
	"deskbridge.io/internal/interaction"
)

// Endpoint is Slack's OAuth v2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://slack.com/oauth/v2/authorize",
	TokenURL:  "https://slack.com/api/oauth.v2.access",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Scopes requested by each flow.
var (
	BotScopes  = []string{"chat:write", "chat:write.public", "commands", "users:read", "users:read.email", "team:read", "channels:read"}
	UserScopes = []string{"identity.basic", "identity.email", "identity.team"}
)

// Callback paths, relative to the public base URL.
const (
	InstallCallbackPath = "/slack/oauth/callback"
	LinkCallbackPath    = "/slack/oauth/connect-callback"
)

// Grant is the useful part of an oauth.v2.access response.
type Grant struct {
	TeamID    string
	TeamName  string
	UserID    string
	BotUserID string
	Scope     string
}

// Exchanger trades an authorization code for a Grant.
type Exchanger interface {
	Exchange(ctx context.Context, code, redirectURI string) (Grant, error)
}

// NonceStore makes state tokens single use.
type NonceStore interface {
	ConsumeNonce(ctx context.Context, nonce string, expiresAt time.Time) error
}

// Config holds the OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	// BaseURL is the externally reachable origin, without trailing slash.
	BaseURL string
}

// LinkResult is what a completed link flow produced.
type LinkResult struct {
	Organization desk.Organization
	Account      desk.Account
}

// Linker drives both flows.
type Linker struct {
	cfg        Config
	codec      *StateCodec
	exchanger  Exchanger
	nonces     NonceStore
	reconciler *identity.Reconciler
	log        *zap.Logger
	audit      *audit.Logger
}

// NewLinker wires a Linker. log and auditLog may be nil.
func NewLinker(cfg Config, codec *StateCodec, exchanger Exchanger, nonces NonceStore, reconciler *identity.Reconciler, log *zap.Logger, auditLog *audit.Logger) *Linker {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Linker{
		cfg:        cfg,
		codec:      codec,
		exchanger:  exchanger,
		nonces:     nonces,
		reconciler: reconciler,
		log:        log,
		audit:      auditLog,
	}
}

func (l *Linker) oauth2Config(redirectPath string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     l.cfg.ClientID,
		ClientSecret: l.cfg.ClientSecret,
		RedirectURL:  l.cfg.BaseURL + redirectPath,
		Endpoint:     Endpoint,
	}
}

// StartLink returns the Slack authorize URL for a signed-in dashboard user.
func (l *Linker) StartLink(authUserID, email string) (string, error) {
	authUserID = strings.TrimSpace(authUserID)
	if authUserID == "" {
		return "", fmt.Errorf("start link: %w", desk.ErrInvalidInput)
	}
	state, err := l.codec.Encode(LinkState{
		Flow:       interaction.FlowLink,
		AuthUserID: authUserID,
		Email:      strings.TrimSpace(email),
		Nonce:      ids.Nonce(),
	})
	if err != nil {
		return "", err
	}
	return l.oauth2Config(LinkCallbackPath).AuthCodeURL(state,
		oauth2.SetAuthURLParam("user_scope", strings.Join(UserScopes, ","))), nil
}

// InstallURL returns the Slack authorize URL for installing the bot.
func (l *Linker) InstallURL() (string, error) {
	if l.cfg.ClientID == "" {
		return "", errors.New("oauthlink: client id is not configured")
	}
	state, err := l.codec.Encode(LinkState{Flow: interaction.FlowInstall, Nonce: ids.Nonce()})
	if err != nil {
		return "", err
	}
	return l.oauth2Config(InstallCallbackPath).AuthCodeURL(state,
		oauth2.SetAuthURLParam("scope", strings.Join(BotScopes, ","))), nil
}

// verifyState decodes state for flow and burns its nonce.
func (l *Linker) verifyState(ctx context.Context, state, flow string) (LinkState, error) {
	st, err := l.codec.Decode(state, flow)
	if err != nil {
		return LinkState{}, err
	}
	if err := l.nonces.ConsumeNonce(ctx, st.Nonce, st.ExpiresAt); err != nil {
		if errors.Is(err, desk.ErrConflict) {
			return LinkState{}, ErrStateReplayed
		}
		return LinkState{}, fmt.Errorf("%w: consume nonce: %w", ErrLinkFailed, err)
	}
	return st, nil
}

// CompleteLink finishes the link flow: the Slack user behind code is mapped
// to an account, which then carries the dashboard identity from state.
func (l *Linker) CompleteLink(ctx context.Context, code, state string) (LinkResult, error) {
	code, state = strings.TrimSpace(code), strings.TrimSpace(state)
	if code == "" || state == "" {
		return LinkResult{}, ErrMissingParams
	}
	st, err := l.verifyState(ctx, state, interaction.FlowLink)
	if err != nil {
		return LinkResult{}, err
	}
	if st.AuthUserID == "" {
		return LinkResult{}, ErrInvalidState
	}

	grant, err := l.exchanger.Exchange(ctx, code, l.cfg.BaseURL+LinkCallbackPath)
	if err != nil {
		return LinkResult{}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	if grant.TeamID == "" || grant.UserID == "" {
		return LinkResult{}, ErrMissingIdentity
	}

	org, err := l.reconciler.ResolveOrganization(ctx, grant.TeamID, grant.TeamName)
	if err != nil {
		return LinkResult{}, fmt.Errorf("%w: %w", ErrLinkFailed, err)
	}
	acc, err := l.reconciler.ResolveAccount(ctx, org, grant.UserID, identity.Profile{Email: st.Email})
	if err != nil {
		return LinkResult{}, fmt.Errorf("%w: %w", ErrLinkFailed, err)
	}
	acc, err = l.reconciler.LinkAccount(ctx, acc, st.AuthUserID, st.Email)
	if err != nil {
		return LinkResult{}, fmt.Errorf("%w: %w", ErrLinkFailed, err)
	}
	l.log.Info("slack identity linked",
		zap.String("organization_id", org.ID),
		zap.String("account_id", acc.ID),
		zap.String("auth_user_id", st.AuthUserID),
	)
	return LinkResult{Organization: org, Account: acc}, nil
}

// CompleteInstall finishes the install flow and returns the workspace's
// organization, created or renamed as needed.
func (l *Linker) CompleteInstall(ctx context.Context, code, state string) (desk.Organization, error) {
	code, state = strings.TrimSpace(code), strings.TrimSpace(state)
	if code == "" || state == "" {
		return desk.Organization{}, ErrMissingParams
	}
	if _, err := l.verifyState(ctx, state, interaction.FlowInstall); err != nil {
		return desk.Organization{}, err
	}

	grant, err := l.exchanger.Exchange(ctx, code, l.cfg.BaseURL+InstallCallbackPath)
	if err != nil {
		return desk.Organization{}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	if grant.TeamID == "" {
		return desk.Organization{}, ErrMissingIdentity
	}
	org, err := l.reconciler.UpsertOrganization(ctx, grant.TeamID, grant.TeamName)
	if err != nil {
		return desk.Organization{}, fmt.Errorf("%w: %w", ErrLinkFailed, err)
	}
	if l.audit != nil {
		_ = l.audit.LogEvent(ctx, "slack.app_installed", map[string]any{
			"organization_id": org.ID,
			"workspace_id":    grant.TeamID,
			"bot_user_id":     grant.BotUserID,
			"scope":           grant.Scope,
		})
	}
	return org, nil
}
