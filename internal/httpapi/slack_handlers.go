package httpapi

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"deskbridge.io/internal/auth"
	"deskbridge.io/internal/interaction"
)

// handleSlackCallback serves /slack/commands and /slack/interactions. The
// signature middleware has already verified the body.
func (a *API) handleSlackCallback(w http.ResponseWriter, r *http.Request) {
	kind, err := interaction.KindFromContentType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unsupported content type")
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unable to read body")
		return
	}
	env, err := interaction.Decode(raw, kind)
	if err != nil {
		a.log.Warn("slack payload rejected",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, http.StatusBadRequest, "malformed payload")
		return
	}
	writeResult(w, r, a.deps.Gateway.Dispatch(r.Context(), env))
}

// handleInstall redirects to Slack's consent page for installing the bot.
func (a *API) handleInstall(w http.ResponseWriter, r *http.Request) {
	target, err := a.deps.OAuth.InstallURL()
	if err != nil {
		a.log.Error("build install url", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "install is not available")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleConnect starts linking the signed-in dashboard user to Slack.
func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	target, err := a.deps.OAuth.StartLink(user.ID, user.Email)
	if err != nil {
		a.log.Error("build link url", zap.String("auth_user_id", user.ID), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "connect is not available")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleOAuthCallback receives the browser back from Slack for flow.
func (a *API) handleOAuthCallback(flow string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cb := interaction.DecodeOAuthCallback(flow, r.URL.Query())
		writeResult(w, r, a.deps.Gateway.Dispatch(r.Context(), cb))
	}
}
