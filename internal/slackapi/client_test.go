package slackapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlack struct {
	mu    sync.Mutex
	calls map[string]url.Values
	json  map[string][]byte
	reply map[string]any
}

func newFakeSlack(t *testing.T) (*fakeSlack, *Client) {
	t.Helper()
	f := &fakeSlack{calls: map[string]url.Values{}, json: map[string][]byte{}, reply: map[string]any{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	c, err := New(Config{BotToken: "xoxb-test", ClientID: "cid", ClientSecret: "sec", APIURL: srv.URL + "/api"}, srv.Client(), nil)
	require.NoError(t, err)
	return f, c
}

func (f *fakeSlack) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[len("/api/"):]
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	if r.Header.Get("Content-Type") == "application/json" || json.Valid(body) {
		f.json[method] = body
	} else {
		v, _ := url.ParseQuery(string(body))
		f.calls[method] = v
	}
	reply, ok := f.reply[method]
	f.mu.Unlock()
	if !ok {
		reply = map[string]any{"ok": true}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func TestPostMessageReturnsTimestamp(t *testing.T) {
	f, c := newFakeSlack(t)
	f.reply["chat.postMessage"] = map[string]any{"ok": true, "channel": "C1", "ts": "1700000000.000100"}

	ts, err := c.PostMessage(context.Background(), "C1", slack.MsgOptionText("hello", false))
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000100", ts)
	assert.Equal(t, "C1", f.calls["chat.postMessage"].Get("channel"))
	assert.Equal(t, "hello", f.calls["chat.postMessage"].Get("text"))
}

func TestAPIErrorsCarryCode(t *testing.T) {
	f, c := newFakeSlack(t)
	f.reply["chat.postEphemeral"] = map[string]any{"ok": false, "error": "channel_not_found"}

	err := c.PostEphemeral(context.Background(), "C404", "U1", "nope")
	require.Error(t, err)
	assert.Equal(t, "channel_not_found", ErrorCode(err))
	assert.Contains(t, err.Error(), "chat.postEphemeral")
}

func TestOpenViewSendsModal(t *testing.T) {
	f, c := newFakeSlack(t)
	view := slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: "create_ticket_modal",
		Title:      slack.NewTextBlockObject(slack.PlainTextType, "Create IT Ticket", false, false),
	}
	require.NoError(t, c.OpenView(context.Background(), "trig-1", view))

	var sent struct {
		TriggerID string `json:"trigger_id"`
		View      struct {
			CallbackID string `json:"callback_id"`
		} `json:"view"`
	}
	require.NoError(t, json.Unmarshal(f.json["views.open"], &sent))
	assert.Equal(t, "trig-1", sent.TriggerID)
	assert.Equal(t, "create_ticket_modal", sent.View.CallbackID)
}

func TestDirectoryLookups(t *testing.T) {
	f, c := newFakeSlack(t)
	f.reply["team.info"] = map[string]any{"ok": true, "team": map[string]any{"id": "T1", "name": "Acme"}}
	f.reply["users.info"] = map[string]any{"ok": true, "user": map[string]any{
		"id": "U1", "name": "ann", "real_name": "Ann Example",
		"profile": map[string]any{"email": "ann@example.com"},
	}}
	ctx := context.Background()

	name, err := c.TeamName(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", name)

	_, err = c.TeamName(ctx, "T2")
	assert.Error(t, err)

	p, err := c.UserProfile(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "Ann Example", p.RealName)
	assert.Equal(t, "ann", p.Handle)
	assert.Equal(t, "ann@example.com", p.Email)
	assert.Equal(t, "U1", f.calls["users.info"].Get("user"))
}

func TestExchangeReadsGrant(t *testing.T) {
	f, c := newFakeSlack(t)
	f.reply["oauth.v2.access"] = map[string]any{
		"ok":          true,
		"scope":       "commands,chat:write",
		"bot_user_id": "B1",
		"team":        map[string]any{"id": "T1", "name": "Acme"},
		"authed_user": map[string]any{"id": "U1"},
	}

	g, err := c.Exchange(context.Background(), "code-1", "https://desk.example.com/slack/oauth/callback")
	require.NoError(t, err)
	assert.Equal(t, "T1", g.TeamID)
	assert.Equal(t, "Acme", g.TeamName)
	assert.Equal(t, "U1", g.UserID)
	assert.Equal(t, "B1", g.BotUserID)

	sent := f.calls["oauth.v2.access"]
	assert.Equal(t, "code-1", sent.Get("code"))
	assert.Equal(t, "https://desk.example.com/slack/oauth/callback", sent.Get("redirect_uri"))
}

func TestExchangeFailure(t *testing.T) {
	f, c := newFakeSlack(t)
	f.reply["oauth.v2.access"] = map[string]any{"ok": false, "error": "invalid_code"}

	_, err := c.Exchange(context.Background(), "bad", "https://x/cb")
	require.Error(t, err)
	assert.Equal(t, "invalid_code", ErrorCode(err))
}

func TestNewRejectsBadAPIURL(t *testing.T) {
	_, err := New(Config{APIURL: "not a url"}, nil, nil)
	assert.Error(t, err)
}
