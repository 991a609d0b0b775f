package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"deskbridge.io/internal/desk"
	"deskbridge.io/internal/interaction"
)

const (
	modalTitle  = "Create IT Ticket"
	modalSubmit = "Create"
	modalClose  = "Cancel"
)

var priorityLabels = map[desk.Priority]string{
	desk.PriorityLow:    "⬇️ Low",
	desk.PriorityMedium: "➡️ Medium",
	desk.PriorityHigh:   "⬆️ High",
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func priorityOption(p desk.Priority) *slack.OptionBlockObject {
	return slack.NewOptionBlockObject(string(p), plain(priorityLabels[p]), nil)
}

// ticketModal renders the ticket form pre-filled with draft. meta is echoed
// back on submission through private_metadata.
func ticketModal(draft interaction.TicketDraft, meta interaction.ModalMetadata) (slack.ModalViewRequest, error) {
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return slack.ModalViewRequest{}, fmt.Errorf("encode modal metadata: %w", err)
	}

	title := slack.NewPlainTextInputBlockElement(plain("e.g., Printer on 3rd floor not working"), interaction.ActionTitle)
	title.InitialValue = interaction.TruncateTitle(draft.Title)
	title.MaxLength = interaction.MaxTitleLen

	description := slack.NewPlainTextInputBlockElement(plain("Provide details about the issue..."), interaction.ActionDescription)
	description.Multiline = true
	description.InitialValue = interaction.TruncateDescription(draft.Description)
	description.MaxLength = interaction.MaxDescriptionLen
	descriptionBlock := slack.NewInputBlock(interaction.BlockDescription, plain("Description"), nil, description)
	descriptionBlock.Optional = true

	initial := draft.Priority
	if _, ok := priorityLabels[initial]; !ok {
		initial = desk.PriorityMedium
	}
	priority := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Select priority"), interaction.ActionPriority,
		priorityOption(desk.PriorityLow), priorityOption(desk.PriorityMedium), priorityOption(desk.PriorityHigh))
	priority.InitialOption = priorityOption(initial)

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      interaction.CallbackTicketModal,
		Title:           plain(modalTitle),
		Submit:          plain(modalSubmit),
		Close:           plain(modalClose),
		PrivateMetadata: string(rawMeta),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			slack.NewInputBlock(interaction.BlockTitle, plain("Title"), nil, title),
			descriptionBlock,
			slack.NewInputBlock(interaction.BlockPriority, plain("Priority"), nil, priority),
		}},
	}, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
