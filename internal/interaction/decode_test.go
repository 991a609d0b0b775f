package interaction

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskbridge.io/internal/desk"
)

func formBody(payload string) []byte {
	return []byte(url.Values{"payload": {payload}}.Encode())
}

func TestDecodeSlashCommand(t *testing.T) {
	body := url.Values{
		"command":      {"/ticket"},
		"text":         {"high Printer broken | Toner jam on 3rd floor"},
		"user_id":      {"U1"},
		"user_name":    {"ann"},
		"team_id":      {"T1"},
		"channel_id":   {"C1"},
		"trigger_id":   {"trig-1"},
		"response_url": {"https://hooks.slack.com/commands/x"},
	}.Encode()

	env, err := Decode([]byte(body), KindForm)
	require.NoError(t, err)
	cmd, ok := env.(SlashCommand)
	require.True(t, ok, "got %T", env)
	assert.Equal(t, "U1", cmd.UserID)
	assert.Equal(t, "T1", cmd.TeamID)
	assert.Equal(t, "C1", cmd.ChannelID)
	assert.Equal(t, "trig-1", cmd.TriggerID)

	draft := ParseTicketCommand(cmd.Text)
	assert.Equal(t, desk.PriorityHigh, draft.Priority)
	assert.Equal(t, "Printer broken", draft.Title)
	assert.Equal(t, "Toner jam on 3rd floor", draft.Description)
}

func TestDecodeModalSubmission(t *testing.T) {
	payload := `{
		"type": "view_submission",
		"team": {"id": "T1", "domain": "acme"},
		"user": {"id": "U1", "name": "ann", "team_id": "T1"},
		"view": {
			"id": "V123",
			"callback_id": "create_ticket_modal",
			"private_metadata": "{\"user_id\":\"U1\",\"channel_id\":\"C9\"}",
			"state": {"values": {
				"title_block": {"title": {"type": "plain_text_input", "value": "Printer broken"}},
				"description_block": {"description": {"type": "plain_text_input", "value": "Toner"}},
				"priority_block": {"priority": {"type": "static_select", "selected_option": {"value": "high", "text": {"type": "plain_text", "text": "High"}}}}
			}}
		}
	}`
	env, err := Decode(formBody(payload), KindForm)
	require.NoError(t, err)
	sub, ok := env.(ModalSubmission)
	require.True(t, ok, "got %T", env)
	assert.Equal(t, "V123", sub.ViewID)
	assert.Equal(t, "T1", sub.TeamID)
	assert.Equal(t, "C9", sub.Metadata.ChannelID)

	draft, problems := DraftFromSubmission(sub)
	assert.Nil(t, problems)
	assert.Equal(t, "Printer broken", draft.Title)
	assert.Equal(t, "Toner", draft.Description)
	assert.Equal(t, desk.PriorityHigh, draft.Priority)
}

func TestDecodeJSONBody(t *testing.T) {
	env, err := Decode([]byte(`{"type":"view_submission","view":{"id":"V1","callback_id":"create_ticket_modal"},"user":{"id":"U1"},"team":{"id":"T1"}}`), KindJSON)
	require.NoError(t, err)
	_, ok := env.(ModalSubmission)
	assert.True(t, ok, "got %T", env)
}

func TestDecodeMessageAction(t *testing.T) {
	payload := `{
		"type": "message_action",
		"callback_id": "create_ticket_from_message",
		"trigger_id": "trig-2",
		"team": {"id": "T1"},
		"user": {"id": "U2"},
		"channel": {"id": "C1", "name": "general"},
		"message": {"type": "message", "user": "U3", "text": "VPN is down", "ts": "1700000000.123456"}
	}`
	env, err := Decode(formBody(payload), KindForm)
	require.NoError(t, err)
	act, ok := env.(MessageAction)
	require.True(t, ok, "got %T", env)
	assert.Equal(t, "VPN is down", act.MessageText)
	assert.Equal(t, "U3", act.MessageAuthor)
	assert.Equal(t, "1700000000.123456", act.MessageTimestamp)
	assert.Equal(t, "C1", act.ChannelID)
	assert.Equal(t, "trig-2", act.TriggerID)
}

func TestDecodeGlobalShortcutActsAsEmptyCommand(t *testing.T) {
	env, err := Decode(formBody(`{"type":"shortcut","callback_id":"create_ticket","trigger_id":"t","user":{"id":"U1","team_id":"T1"}}`), KindForm)
	require.NoError(t, err)
	cmd, ok := env.(SlashCommand)
	require.True(t, ok, "got %T", env)
	assert.Equal(t, "", cmd.Text)
	assert.Equal(t, "T1", cmd.TeamID)
}

func TestDecodeUnknownIsNoOp(t *testing.T) {
	for _, payload := range []string{
		`{"type":"block_actions","trigger_id":"t"}`,
		`{"type":"view_submission","view":{"callback_id":"other"}}`,
		`{"type":"message_action","callback_id":"other"}`,
	} {
		env, err := Decode(formBody(payload), KindForm)
		require.NoError(t, err, payload)
		_, ok := env.(NoOp)
		assert.True(t, ok, "payload %s gave %T", payload, env)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"bad json":       formBody(`{"type":`),
		"no type":        formBody(`{}`),
		"empty form":     []byte(""),
		"bad escape":     []byte("payload=%zz"),
		"unrelated form": []byte("foo=bar"),
	}
	for name, body := range cases {
		_, err := Decode(body, KindForm)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrMalformed), "%s: %v", name, err)
		var de *DecodeError
		assert.True(t, errors.As(err, &de), name)
	}
}

func TestKindFromContentType(t *testing.T) {
	k, err := KindFromContentType("application/json; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, KindJSON, k)

	k, err = KindFromContentType("application/x-www-form-urlencoded")
	require.NoError(t, err)
	assert.Equal(t, KindForm, k)

	_, err = KindFromContentType("text/plain")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeOAuthCallback(t *testing.T) {
	cb := DecodeOAuthCallback(FlowLink, url.Values{"code": {" abc "}, "state": {"s"}})
	assert.Equal(t, OAuthCallback{Flow: FlowLink, Code: "abc", State: "s"}, cb)
	assert.True(t, strings.HasPrefix(cb.Type(), "oauth"))
}
