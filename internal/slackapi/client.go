// Package slackapi is the gateway's outbound side: the Slack Web API calls it
// needs, wrapped around slack-go with per-call timeouts.
package slackapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"deskbridge.io/internal/identity"
	"deskbridge.io/internal/oauthlink"
)

const defaultTimeout = 5 * time.Second

// Config configures a Client.
type Config struct {
	BotToken     string
	ClientID     string
	ClientSecret string
	// APIURL overrides https://slack.com/api/ (local mocks, tests).
	APIURL  string
	Timeout time.Duration
}

// Client talks to the Slack Web API.
type Client struct {
	api          *slack.Client
	http         *http.Client
	clientID     string
	clientSecret string
	timeout      time.Duration
	log          *zap.Logger
}

// New builds a Client. httpClient and log may be nil.
func New(cfg Config, httpClient *http.Client, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	opts := []slack.Option{slack.OptionHTTPClient(httpClient)}
	if cfg.APIURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.APIURL, "/") + "/")
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("slackapi: invalid api url %q", cfg.APIURL)
		}
		opts = append(opts, slack.OptionAPIURL(base.String()))
		// oauth.v2.access is called through a package-level URL in slack-go,
		// so the override is applied at the transport instead.
		next := httpClient.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		rewritten := *httpClient
		rewritten.Transport = &rewriteTransport{base: base, next: next}
		httpClient = &rewritten
	}
	return &Client{
		api:          slack.New(cfg.BotToken, opts...),
		http:         httpClient,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		timeout:      cfg.Timeout,
		log:          log,
	}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// OpenView opens a modal in response to triggerID.
func (c *Client) OpenView(ctx context.Context, triggerID string, view slack.ModalViewRequest) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.api.OpenViewContext(ctx, triggerID, view); err != nil {
		return wrap("views.open", err)
	}
	return nil
}

// PostMessage posts to channel and returns the message timestamp.
func (c *Client) PostMessage(ctx context.Context, channel string, opts ...slack.MsgOption) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, ts, err := c.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", wrap("chat.postMessage", err)
	}
	return ts, nil
}

// PostEphemeral shows text to a single user in channel.
func (c *Client) PostEphemeral(ctx context.Context, channel, user, text string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.api.PostEphemeralContext(ctx, channel, user, slack.MsgOptionText(text, false)); err != nil {
		return wrap("chat.postEphemeral", err)
	}
	return nil
}

// TeamName returns the name of the bot token's workspace. It fails when the
// token belongs to a different workspace than workspaceID.
func (c *Client) TeamName(ctx context.Context, workspaceID string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	team, err := c.api.GetTeamInfoContext(ctx)
	if err != nil {
		return "", wrap("team.info", err)
	}
	if team.ID != workspaceID {
		return "", fmt.Errorf("slackapi: token belongs to workspace %s, not %s", team.ID, workspaceID)
	}
	return team.Name, nil
}

// UserProfile looks up a user's name and email.
func (c *Client) UserProfile(ctx context.Context, userID string) (identity.Profile, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return identity.Profile{}, wrap("users.info", err)
	}
	realName := u.RealName
	if realName == "" {
		realName = u.Profile.RealName
	}
	return identity.Profile{RealName: realName, Handle: u.Name, Email: u.Profile.Email}, nil
}

// Exchange trades an OAuth authorization code via oauth.v2.access.
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (oauthlink.Grant, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := slack.GetOAuthV2ResponseContext(ctx, c.http, c.clientID, c.clientSecret, code, redirectURI)
	if err != nil {
		return oauthlink.Grant{}, wrap("oauth.v2.access", err)
	}
	return oauthlink.Grant{
		TeamID:    resp.Team.ID,
		TeamName:  resp.Team.Name,
		UserID:    resp.AuthedUser.ID,
		BotUserID: resp.BotUserID,
		Scope:     resp.Scope,
	}, nil
}

// ErrorCode extracts Slack's error string ("invalid_code",
// "channel_not_found", ...) from err, or "".
func ErrorCode(err error) string {
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return se.Err
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// Error is a failed Web API call.
type Error struct {
	Method string
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return "slackapi: " + e.Method + ": " + e.Code
	}
	return "slackapi: " + e.Method + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(method string, err error) error {
	code := ""
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		code = se.Err
	} else if msg := err.Error(); !strings.ContainsAny(msg, " :") {
		// slack-go reports most API failures as the bare error string
		code = msg
	}
	return &Error{Method: method, Code: code, Err: err}
}

// rewriteTransport sends requests aimed at slack.com/api/ to base.
type rewriteTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != "slack.com" || !strings.HasPrefix(req.URL.Path, "/api/") {
		return t.next.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	u := *t.base
	u.Path = strings.TrimRight(t.base.Path, "/") + "/" + strings.TrimPrefix(req.URL.Path, "/api/")
	u.RawQuery = req.URL.RawQuery
	out.URL = &u
	out.Host = u.Host
	return t.next.RoundTrip(out)
}
