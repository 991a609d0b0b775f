// Package interaction turns raw Slack callback bodies into typed envelopes.
//
// Decoding happens after signature verification. Nothing here talks to the
// network or the database.
package interaction

// Callback ids this gateway owns.
const (
	CallbackTicketModal       = "create_ticket_modal"
	CallbackTicketFromMessage = "create_ticket_from_message"
	CallbackTicketShortcut    = "create_ticket"
)

// Envelope is one of SlashCommand, ModalSubmission, MessageAction,
// OAuthCallback or NoOp.
type Envelope interface {
	// Type is a stable label used for logging and metrics.
	Type() string
}

// SlashCommand is a /ticket invocation, or the global shortcut which
// behaves like one with empty text.
type SlashCommand struct {
	Command     string
	Text        string
	UserID      string
	UserName    string
	TeamID      string
	TeamDomain  string
	ChannelID   string
	TriggerID   string
	ResponseURL string
}

func (SlashCommand) Type() string { return "slash_command" }

// ModalMetadata is stashed in the modal's private_metadata when it is opened.
type ModalMetadata struct {
	UserID              string `json:"user_id,omitempty"`
	ChannelID           string `json:"channel_id,omitempty"`
	OriginalMessageUser string `json:"original_message_user,omitempty"`
	MessageTS           string `json:"message_ts,omitempty"`
}

// ModalSubmission is a view_submission of the ticket modal.
type ModalSubmission struct {
	CallbackID string
	ViewID     string
	UserID     string
	UserName   string
	TeamID     string
	// Values maps block id -> action id -> submitted value. Select menus
	// contribute the selected option's value.
	Values   map[string]map[string]string
	Metadata ModalMetadata
}

func (ModalSubmission) Type() string { return "view_submission" }

// Value returns the submitted value for blockID/actionID, or "".
func (m ModalSubmission) Value(blockID, actionID string) string {
	return m.Values[blockID][actionID]
}

// MessageAction is the "create ticket from message" shortcut.
type MessageAction struct {
	MessageText      string
	MessageAuthor    string
	MessageTimestamp string
	TriggerID        string
	ChannelID        string
	UserID           string
	TeamID           string
	ResponseURL      string
}

func (MessageAction) Type() string { return "message_action" }

// OAuth flows.
const (
	FlowInstall = "install"
	FlowLink    = "link"
)

// OAuthCallback is the browser redirect back from Slack's authorize page.
type OAuthCallback struct {
	Flow  string
	Code  string
	State string
	Error string
}

func (OAuthCallback) Type() string { return "oauth_callback" }

// NoOp is any well-formed callback the gateway does not handle.
type NoOp struct {
	Kind       string
	CallbackID string
}

func (NoOp) Type() string { return "noop" }
