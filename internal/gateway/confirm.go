package gateway

import (
	"fmt"

	"github.com/slack-go/slack"

	"deskbridge.io/internal/desk"
)

const viewTicketActionID = "view_ticket"

// TicketURL is the dashboard page for ticketID.
func TicketURL(baseURL, ticketID string) string {
	return baseURL + "/dashboard/tickets/" + ticketID
}

var statusLabels = map[desk.Status]string{
	desk.StatusOpen:       "Open",
	desk.StatusInProgress: "In Progress",
	desk.StatusClosed:     "Closed",
}

// confirmationMessage is posted to the originating channel once a ticket
// exists. Its ts becomes the ticket's thread.
func confirmationMessage(baseURL string, t desk.Ticket, requesterSlackID string) []slack.MsgOption {
	status := statusLabels[t.Status]
	if status == "" {
		status = titleCase(string(t.Status))
	}
	button := slack.NewButtonBlockElement(viewTicketActionID, t.ID, plain("🔗 View in Dashboard"))
	button.URL = TicketURL(baseURL, t.ID)

	blocks := []slack.Block{
		slack.NewSectionBlock(mrkdwn(fmt.Sprintf("*✅ Ticket Created*\n\n*#%d* - %s", t.Number, t.Title)), nil, nil),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			mrkdwn("*Priority:*\n" + titleCase(string(t.Priority))),
			mrkdwn("*Status:*\n" + status),
			mrkdwn(fmt.Sprintf("*Requester:*\n<@%s>", requesterSlackID)),
		}, nil),
		slack.NewActionBlock("", button),
	}
	return []slack.MsgOption{
		slack.MsgOptionText(fmt.Sprintf("✅ Ticket #%d created", t.Number), false),
		slack.MsgOptionBlocks(blocks...),
	}
}
