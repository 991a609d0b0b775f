package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"deskbridge.io/internal/desk"
)

// RelayResult reports what RelayComment did.
type RelayResult struct {
	Comment desk.Comment
	// Posted is true when the comment reached the ticket's Slack thread.
	Posted bool
}

// RelayComment stores a dashboard comment on ticketID and, unless it is
// internal, replies with it in the ticket's Slack thread. The author must be
// linked to an account in the ticket's organization, otherwise
// desk.ErrForbidden. A failed post is reported but the stored comment is kept.
func (r *Router) RelayComment(ctx context.Context, ticketID, authorAuthID, text string, internal bool) (RelayResult, error) {
	text = strings.TrimSpace(text)
	if strings.TrimSpace(ticketID) == "" || strings.TrimSpace(authorAuthID) == "" || text == "" {
		return RelayResult{}, fmt.Errorf("relay comment: %w", desk.ErrInvalidInput)
	}
	t, err := r.store.TicketByID(ctx, ticketID)
	if err != nil {
		return RelayResult{}, fmt.Errorf("relay comment: %w", err)
	}
	if _, err := r.store.FindAccountByAuthUserID(ctx, t.OrganizationID, authorAuthID); err != nil {
		if errors.Is(err, desk.ErrNotFound) {
			r.logger(ctx).Warn("comment rejected: author not in ticket organization",
				zap.String("ticket_id", t.ID),
				zap.String("auth_user_id", authorAuthID))
			return RelayResult{}, fmt.Errorf("relay comment: %w", desk.ErrForbidden)
		}
		return RelayResult{}, fmt.Errorf("relay comment: %w", err)
	}
	c, err := r.store.AddComment(ctx, desk.Comment{
		TicketID:     t.ID,
		AuthorAuthID: authorAuthID,
		Content:      text,
		IsInternal:   internal,
	})
	if err != nil {
		return RelayResult{}, fmt.Errorf("relay comment: %w", err)
	}
	res := RelayResult{Comment: c}
	if internal || t.SourceChannel == "" || t.ThreadTS == "" {
		return res, nil
	}
	if _, err := r.platform.PostMessage(ctx, t.SourceChannel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(t.ThreadTS),
	); err != nil {
		r.logger(ctx).Warn("post comment to slack thread",
			zap.String("ticket_id", t.ID),
			zap.String("comment_id", c.ID),
			zap.Error(err))
		return res, fmt.Errorf("relay comment to slack: %w", err)
	}
	res.Posted = true
	return res, nil
}
