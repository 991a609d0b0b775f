package interaction

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"deskbridge.io/internal/desk"
)

// Field limits for the modal, in characters. Slack rejects a view whose
// initial_value exceeds the input's max_length.
const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 3000
	ellipsis          = "..."
	permalinkBaseURL  = "https://slack.com/archives/"
)

// Modal block and action ids.
const (
	BlockTitle        = "title_block"
	ActionTitle       = "title"
	BlockDescription  = "description_block"
	ActionDescription = "description"
	BlockPriority     = "priority_block"
	ActionPriority    = "priority"
)

// TicketDraft pre-fills or results from the ticket modal.
type TicketDraft struct {
	Title       string
	Description string
	Priority    desk.Priority
}

var priorityPrefix = regexp.MustCompile(`(?is)^(low|medium|high)\s+(.+)$`)

// ParseTicketCommand reads "[priority] Title | Description". The priority
// word is case-insensitive and defaults to medium. Everything after the
// first "|" is the description.
func ParseTicketCommand(text string) TicketDraft {
	title, description, _ := strings.Cut(text, "|")
	d := TicketDraft{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Priority:    desk.PriorityMedium,
	}
	if m := priorityPrefix.FindStringSubmatch(d.Title); m != nil {
		d.Priority, _ = desk.ParsePriority(m[1])
		d.Title = strings.TrimSpace(m[2])
	}
	return d
}

// TruncateTitle shortens s to MaxTitleLen characters, ending in "..." when cut.
func TruncateTitle(s string) string {
	return truncate(s, MaxTitleLen)
}

// TruncateDescription shortens s to MaxDescriptionLen characters.
func TruncateDescription(s string) string {
	return truncate(s, MaxDescriptionLen)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-len(ellipsis)]) + ellipsis
}

// Permalink builds the archive link Slack resolves to the message.
func Permalink(channelID, ts string) string {
	return permalinkBaseURL + channelID + "/p" + strings.Replace(ts, ".", "", 1)
}

// DraftFromMessage pre-fills the modal from a message action. The text is
// kept in the description together with a link back and attribution; a text
// too long for the description is cut so the attribution survives.
func DraftFromMessage(a MessageAction) TicketDraft {
	footer := fmt.Sprintf("\n\nOriginal message: %s\nFrom: <@%s>",
		Permalink(a.ChannelID, a.MessageTimestamp), a.MessageAuthor)
	body := truncate(a.MessageText, MaxDescriptionLen-utf8.RuneCountInString(footer))
	return TicketDraft{
		Title:       TruncateTitle(a.MessageText),
		Description: body + footer,
		Priority:    desk.PriorityMedium,
	}
}

// DraftFromSubmission extracts the submitted ticket fields. It reports the
// offending block id when a field is unusable.
func DraftFromSubmission(m ModalSubmission) (TicketDraft, map[string]string) {
	d := TicketDraft{
		Title:       strings.TrimSpace(m.Value(BlockTitle, ActionTitle)),
		Description: strings.TrimSpace(m.Value(BlockDescription, ActionDescription)),
	}
	problems := map[string]string{}
	if d.Title == "" {
		problems[BlockTitle] = "Please enter a title."
	}
	raw := m.Value(BlockPriority, ActionPriority)
	if raw == "" {
		d.Priority = desk.PriorityMedium
	} else if p, ok := desk.ParsePriority(raw); ok {
		d.Priority = p
	} else {
		problems[BlockPriority] = "Please choose low, medium or high."
	}
	if len(problems) == 0 {
		return d, nil
	}
	return d, problems
}
