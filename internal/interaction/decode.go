package interaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/slack-go/slack"
)

// ErrMalformed matches every *DecodeError.
var ErrMalformed = errors.New("interaction: malformed payload")

// DecodeError describes why a body could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("interaction: %s: %v", e.Reason, e.Err)
	}
	return "interaction: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

func malformed(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// ContentKind is the body encoding.
type ContentKind int

const (
	KindForm ContentKind = iota
	KindJSON
)

// KindFromContentType maps a Content-Type header to a ContentKind.
func KindFromContentType(ct string) (ContentKind, error) {
	if ct == "" {
		return KindForm, nil
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return 0, malformed("bad content type", err)
	}
	switch mt {
	case "application/x-www-form-urlencoded":
		return KindForm, nil
	case "application/json":
		return KindJSON, nil
	}
	return 0, malformed("unsupported content type "+mt, nil)
}

// Decode parses a verified Slack request body.
func Decode(raw []byte, kind ContentKind) (Envelope, error) {
	switch kind {
	case KindJSON:
		return decodeInteraction(raw)
	case KindForm:
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, malformed("invalid form body", err)
		}
		if payload := form.Get("payload"); payload != "" {
			return decodeInteraction([]byte(payload))
		}
		if form.Get("command") != "" {
			return decodeSlashCommand(form), nil
		}
		return nil, malformed("no payload or command field", nil)
	}
	return nil, malformed("unknown content kind", nil)
}

func decodeSlashCommand(form url.Values) SlashCommand {
	return SlashCommand{
		Command:     form.Get("command"),
		Text:        strings.TrimSpace(form.Get("text")),
		UserID:      form.Get("user_id"),
		UserName:    form.Get("user_name"),
		TeamID:      form.Get("team_id"),
		TeamDomain:  form.Get("team_domain"),
		ChannelID:   form.Get("channel_id"),
		TriggerID:   form.Get("trigger_id"),
		ResponseURL: form.Get("response_url"),
	}
}

func decodeInteraction(raw []byte) (Envelope, error) {
	var cb slack.InteractionCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, malformed("invalid payload json", err)
	}
	if cb.Type == "" {
		return nil, malformed("payload has no type", nil)
	}

	switch cb.Type {
	case slack.InteractionTypeViewSubmission:
		if cb.View.CallbackID != CallbackTicketModal {
			return NoOp{Kind: string(cb.Type), CallbackID: cb.View.CallbackID}, nil
		}
		return ModalSubmission{
			CallbackID: cb.View.CallbackID,
			ViewID:     cb.View.ID,
			UserID:     cb.User.ID,
			UserName:   cb.User.Name,
			TeamID:     teamID(cb),
			Values:     flattenState(cb.View.State),
			Metadata:   parseMetadata(cb.View.PrivateMetadata),
		}, nil

	case slack.InteractionTypeMessageAction:
		if cb.CallbackID != CallbackTicketFromMessage {
			return NoOp{Kind: string(cb.Type), CallbackID: cb.CallbackID}, nil
		}
		author := cb.Message.User
		if author == "" {
			author = cb.Message.BotID
		}
		return MessageAction{
			MessageText:      cb.Message.Text,
			MessageAuthor:    author,
			MessageTimestamp: cb.Message.Timestamp,
			TriggerID:        cb.TriggerID,
			ChannelID:        cb.Channel.ID,
			UserID:           cb.User.ID,
			TeamID:           teamID(cb),
			ResponseURL:      cb.ResponseURL,
		}, nil

	case slack.InteractionTypeShortcut:
		if cb.CallbackID != CallbackTicketShortcut {
			return NoOp{Kind: string(cb.Type), CallbackID: cb.CallbackID}, nil
		}
		return SlashCommand{
			UserID:    cb.User.ID,
			UserName:  cb.User.Name,
			TeamID:    teamID(cb),
			TriggerID: cb.TriggerID,
		}, nil
	}
	return NoOp{Kind: string(cb.Type), CallbackID: cb.CallbackID}, nil
}

func teamID(cb slack.InteractionCallback) string {
	if cb.Team.ID != "" {
		return cb.Team.ID
	}
	return cb.User.TeamID
}

func flattenState(state *slack.ViewState) map[string]map[string]string {
	out := map[string]map[string]string{}
	if state == nil {
		return out
	}
	for blockID, actions := range state.Values {
		vals := make(map[string]string, len(actions))
		for actionID, a := range actions {
			switch {
			case a.SelectedOption.Value != "":
				vals[actionID] = a.SelectedOption.Value
			default:
				vals[actionID] = a.Value
			}
		}
		out[blockID] = vals
	}
	return out
}

// parseMetadata tolerates empty or foreign private_metadata; the submitting
// user from the payload is authoritative anyway.
func parseMetadata(s string) ModalMetadata {
	var md ModalMetadata
	if strings.TrimSpace(s) == "" {
		return md
	}
	_ = json.Unmarshal([]byte(s), &md)
	return md
}

// DecodeOAuthCallback reads code, state and error from the redirect query.
func DecodeOAuthCallback(flow string, q url.Values) OAuthCallback {
	return OAuthCallback{
		Flow:  flow,
		Code:  strings.TrimSpace(q.Get("code")),
		State: strings.TrimSpace(q.Get("state")),
		Error: strings.TrimSpace(q.Get("error")),
	}
}
