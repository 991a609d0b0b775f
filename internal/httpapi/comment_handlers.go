package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"deskbridge.io/internal/auth"
	"deskbridge.io/internal/desk"
)

type commentRequest struct {
	Content    string `json:"content"`
	IsInternal bool   `json:"is_internal"`
}

type commentResponse struct {
	Comment       desk.Comment `json:"comment"`
	PostedToSlack bool         `json:"posted_to_slack"`
	SlackError    string       `json:"slack_error,omitempty"`
}

// handleComment stores a dashboard comment and relays it to the ticket's
// Slack thread. A relay failure still answers 201 since the comment is saved.
func (a *API) handleComment(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, r, http.StatusBadRequest, "content is required")
		return
	}

	res, err := a.deps.Gateway.RelayComment(r.Context(), chi.URLParam(r, "id"), user.ID, req.Content, req.IsInternal)
	if err != nil && res.Comment.ID == "" {
		switch {
		case errors.Is(err, desk.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "ticket not found")
		case errors.Is(err, desk.ErrForbidden):
			writeError(w, r, http.StatusForbidden, "not a member of the ticket's organization")
		case errors.Is(err, desk.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, "invalid comment")
		default:
			a.log.Error("store comment", zap.String("request_id", RequestIDFromContext(r.Context())), zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	out := commentResponse{Comment: res.Comment, PostedToSlack: res.Posted}
	if err != nil {
		out.SlackError = "failed to post to Slack"
	}
	writeJSON(w, http.StatusCreated, out)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
