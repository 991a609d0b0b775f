// Package gateway routes decoded Slack callbacks to their side effects and
// shapes the acknowledgment Slack (or the browser) gets back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"deskbridge.io/internal/audit"
	"deskbridge.io/internal/desk"
	"deskbridge.io/internal/identity"
	"deskbridge.io/internal/interaction"
	"deskbridge.io/internal/oauthlink"
)

const (
	msgOpenFailed   = "❌ Couldn't open the ticket form. Please try again."
	msgCreateFailed = "Failed to create ticket. Please try again."

	sourceRefPrefix = "view:"
)

// Interaction outcomes recorded on the interactions counter.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeInvalid   = "invalid"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// Platform is the subset of the Slack Web API the router calls.
type Platform interface {
	OpenView(ctx context.Context, triggerID string, view slack.ModalViewRequest) error
	PostMessage(ctx context.Context, channel string, opts ...slack.MsgOption) (string, error)
	PostEphemeral(ctx context.Context, channel, user, text string) error
}

// OAuth completes the browser-facing OAuth flows.
type OAuth interface {
	CompleteInstall(ctx context.Context, code, state string) (desk.Organization, error)
	CompleteLink(ctx context.Context, code, state string) (oauthlink.LinkResult, error)
}

// Result is the acknowledgment for one callback. A non-empty Redirect means
// a 303 to that URL; otherwise Body (when non-nil) is written as JSON.
type Result struct {
	Status   int
	Body     any
	Redirect string
}

func ack() Result { return Result{Status: http.StatusOK} }

type ephemeralResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// Router dispatches envelopes.
type Router struct {
	baseURL    string
	platform   Platform
	store      desk.Store
	reconciler *identity.Reconciler
	oauth      OAuth
	tasks      *Tasks
	log        *zap.Logger
	audit      *audit.Logger
	counter    *prometheus.CounterVec
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Router) { r.log = l } }

// WithAudit records ticket creation.
func WithAudit(a *audit.Logger) Option { return func(r *Router) { r.audit = a } }

// WithCounter counts dispatches by envelope type and outcome.
func WithCounter(c *prometheus.CounterVec) Option { return func(r *Router) { r.counter = c } }

// NewRouter wires a Router. baseURL is the public origin used for dashboard
// links and OAuth result redirects.
func NewRouter(baseURL string, platform Platform, store desk.Store, reconciler *identity.Reconciler, oauth OAuth, tasks *Tasks, opts ...Option) *Router {
	r := &Router{
		baseURL:    strings.TrimRight(baseURL, "/"),
		platform:   platform,
		store:      store,
		reconciler: reconciler,
		oauth:      oauth,
		tasks:      tasks,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tasks == nil {
		r.tasks = NewTasks(r.log, 0)
	}
	return r
}

// Dispatch performs the side effects for env and returns the acknowledgment.
// Upstream failures never escape as errors: each variant degrades to the
// richest response Slack can show for it.
func (r *Router) Dispatch(ctx context.Context, env interaction.Envelope) Result {
	var (
		res     Result
		outcome string
	)
	switch e := env.(type) {
	case interaction.SlashCommand:
		res, outcome = r.openFromCommand(ctx, e)
	case interaction.MessageAction:
		res, outcome = r.openFromMessage(ctx, e)
	case interaction.ModalSubmission:
		res, outcome = r.submitTicket(ctx, e)
	case interaction.OAuthCallback:
		res, outcome = r.completeOAuth(ctx, e)
	default:
		res, outcome = ack(), OutcomeIgnored
	}
	if r.counter != nil && env != nil {
		r.counter.WithLabelValues(env.Type(), outcome).Inc()
	}
	return res
}

func (r *Router) logger(ctx context.Context) *zap.Logger {
	return r.log.With(zap.String("request_id", audit.RequestID(ctx)))
}

func (r *Router) openFromCommand(ctx context.Context, cmd interaction.SlashCommand) (Result, string) {
	draft := interaction.ParseTicketCommand(cmd.Text)
	err := r.openModal(ctx, cmd.TriggerID, draft, interaction.ModalMetadata{UserID: cmd.UserID, ChannelID: cmd.ChannelID})
	if err != nil {
		r.logger(ctx).Error("open ticket modal from command",
			zap.String("team_id", cmd.TeamID),
			zap.String("user_id", cmd.UserID),
			zap.Error(err))
		return Result{Status: http.StatusOK, Body: ephemeralResponse{ResponseType: slack.ResponseTypeEphemeral, Text: msgOpenFailed}}, OutcomeFailed
	}
	return ack(), OutcomeOK
}

func (r *Router) openFromMessage(ctx context.Context, act interaction.MessageAction) (Result, string) {
	draft := interaction.DraftFromMessage(act)
	err := r.openModal(ctx, act.TriggerID, draft, interaction.ModalMetadata{
		UserID:              act.UserID,
		ChannelID:           act.ChannelID,
		OriginalMessageUser: act.MessageAuthor,
		MessageTS:           act.MessageTimestamp,
	})
	if err != nil {
		log := r.logger(ctx)
		log.Error("open ticket modal from message",
			zap.String("team_id", act.TeamID),
			zap.String("channel_id", act.ChannelID),
			zap.Error(err))
		if act.ChannelID != "" && act.UserID != "" {
			if perr := r.platform.PostEphemeral(ctx, act.ChannelID, act.UserID, msgOpenFailed); perr != nil {
				log.Warn("notify user of modal failure", zap.Error(perr))
			}
		}
		return ack(), OutcomeFailed
	}
	return ack(), OutcomeOK
}

func (r *Router) openModal(ctx context.Context, triggerID string, draft interaction.TicketDraft, meta interaction.ModalMetadata) error {
	if triggerID == "" {
		return errors.New("missing trigger_id")
	}
	view, err := ticketModal(draft, meta)
	if err != nil {
		return err
	}
	return r.platform.OpenView(ctx, triggerID, view)
}

func submissionErrors(problems map[string]string) Result {
	return Result{Status: http.StatusOK, Body: slack.NewErrorsViewSubmissionResponse(problems)}
}

func (r *Router) submitTicket(ctx context.Context, sub interaction.ModalSubmission) (Result, string) {
	draft, problems := interaction.DraftFromSubmission(sub)
	if problems != nil {
		return submissionErrors(problems), OutcomeInvalid
	}
	log := r.logger(ctx).With(zap.String("team_id", sub.TeamID), zap.String("user_id", sub.UserID))
	fail := func(msg string, err error) (Result, string) {
		log.Error(msg, zap.String("view_id", sub.ViewID), zap.Error(err))
		return submissionErrors(map[string]string{interaction.BlockTitle: msgCreateFailed}), OutcomeFailed
	}

	org, err := r.reconciler.ResolveOrganization(ctx, sub.TeamID, "")
	if err != nil {
		return fail("resolve organization", err)
	}
	acc, err := r.reconciler.ResolveAccount(ctx, org, sub.UserID, identity.Profile{Handle: sub.UserName})
	if err != nil {
		return fail("resolve account", err)
	}

	channel := sub.Metadata.ChannelID
	nt := desk.NewTicket{
		OrganizationID: org.ID,
		RequesterID:    acc.ID,
		Title:          draft.Title,
		Description:    draft.Description,
		Priority:       draft.Priority,
		SourceChannel:  channel,
	}
	if sub.ViewID != "" {
		nt.SourceRef = sourceRefPrefix + sub.ViewID
	}
	ticket, err := r.store.CreateTicket(ctx, nt)
	if errors.Is(err, desk.ErrConflict) && nt.SourceRef != "" {
		// Slack retried a submission we already turned into a ticket.
		existing, ferr := r.store.FindTicketBySourceRef(ctx, org.ID, nt.SourceRef)
		if ferr != nil {
			return fail("load deduplicated ticket", ferr)
		}
		log.Info("duplicate submission ignored", zap.String("ticket_id", existing.ID))
		return ack(), OutcomeDuplicate
	}
	if err != nil {
		return fail("create ticket", err)
	}

	log.Info("ticket created from slack",
		zap.String("ticket_id", ticket.ID),
		zap.Int64("ticket_number", ticket.Number))
	if r.audit != nil {
		_ = r.audit.LogEvent(ctx, "ticket.created_from_slack", map[string]any{
			"ticket_id":       ticket.ID,
			"organization_id": org.ID,
			"requester_id":    acc.ID,
			"source_ref":      nt.SourceRef,
		})
	}

	requester := sub.Metadata.UserID
	if requester == "" {
		requester = sub.UserID
	}
	if channel != "" {
		r.tasks.Go(ctx, "ticket_confirmation", func(ctx context.Context) error {
			return r.postConfirmation(ctx, ticket, channel, requester)
		})
	}
	return ack(), OutcomeOK
}

func (r *Router) postConfirmation(ctx context.Context, t desk.Ticket, channel, requester string) error {
	ts, err := r.platform.PostMessage(ctx, channel, confirmationMessage(r.baseURL, t, requester)...)
	if err != nil {
		return fmt.Errorf("post confirmation for ticket %s: %w", t.ID, err)
	}
	if ts == "" {
		return nil
	}
	if err := r.store.UpdateTicketThreadRef(ctx, t.ID, channel, ts); err != nil {
		return fmt.Errorf("store thread ref for ticket %s: %w", t.ID, err)
	}
	return nil
}

func (r *Router) redirect(path string, query url.Values) Result {
	target := r.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return Result{Status: http.StatusSeeOther, Redirect: target}
}

func (r *Router) completeOAuth(ctx context.Context, cb interaction.OAuthCallback) (Result, string) {
	log := r.logger(ctx).With(zap.String("flow", cb.Flow))
	switch cb.Flow {
	case interaction.FlowInstall:
		org, err := r.installFlow(ctx, cb)
		if err != nil {
			log.Warn("slack install failed", zap.String("code", oauthlink.ErrorCode(err)), zap.Error(err))
			return r.redirect("/", url.Values{"error": {oauthlink.ErrorCode(err)}}), OutcomeFailed
		}
		return r.redirect("/install-success", url.Values{"team": {org.Name}}), OutcomeOK
	case interaction.FlowLink:
		res, err := r.linkFlow(ctx, cb)
		if err != nil {
			log.Warn("slack link failed", zap.String("code", oauthlink.ErrorCode(err)), zap.Error(err))
			return r.redirect("/dashboard", url.Values{"error": {oauthlink.ErrorCode(err)}}), OutcomeFailed
		}
		log.Info("slack account connected", zap.String("account_id", res.Account.ID))
		return r.redirect("/dashboard", url.Values{"connected": {"true"}}), OutcomeOK
	default:
		return Result{Status: http.StatusNotFound}, OutcomeIgnored
	}
}

func (r *Router) installFlow(ctx context.Context, cb interaction.OAuthCallback) (desk.Organization, error) {
	if cb.Error != "" {
		return desk.Organization{}, fmt.Errorf("%w: %s", oauthlink.ErrProviderDenied, cb.Error)
	}
	return r.oauth.CompleteInstall(ctx, cb.Code, cb.State)
}

func (r *Router) linkFlow(ctx context.Context, cb interaction.OAuthCallback) (oauthlink.LinkResult, error) {
	if cb.Error != "" {
		return oauthlink.LinkResult{}, fmt.Errorf("%w: %s", oauthlink.ErrProviderDenied, cb.Error)
	}
	return r.oauth.CompleteLink(ctx, cb.Code, cb.State)
}
