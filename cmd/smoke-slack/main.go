package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deskbridge.io/internal/auth"
	"deskbridge.io/internal/obs"
	"deskbridge.io/internal/signature"
)

// smoke-slack exercises a running gateway the way Slack and the dashboard do.
func main() {
	logger, err := obs.NewLogger("info", "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	base := strings.TrimRight(envOr("DESKBRIDGE_SMOKE_URL", "http://localhost:8080"), "/")
	secret := os.Getenv("DESKBRIDGE_SLACK_SIGNING_SECRET")
	if secret == "" {
		logger.Fatal("DESKBRIDGE_SLACK_SIGNING_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	expect := func(name string, req *http.Request, want int) {
		resp, err := client.Do(req)
		if err != nil {
			logger.Fatal("request failed", zap.String("check", name), zap.Error(err))
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		if resp.StatusCode != want {
			logger.Fatal("unexpected status",
				zap.String("check", name),
				zap.Int("want", want),
				zap.Int("got", resp.StatusCode),
				zap.ByteString("body", body))
		}
		logger.Info("ok", zap.String("check", name), zap.Int("status", resp.StatusCode))
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	expect("healthz", req, http.StatusOK)

	form := url.Values{
		"command":    {"/ticket"},
		"text":       {"smoke test | created by smoke-slack"},
		"team_id":    {"TSMOKE"},
		"user_id":    {"USMOKE"},
		"user_name":  {"smoke"},
		"channel_id": {"CSMOKE"},
		"trigger_id": {"smoke." + uuid.NewString()},
	}
	body := form.Encode()

	req = slashRequest(ctx, base, body)
	expect("unsigned slash command", req, http.StatusUnauthorized)

	req = slashRequest(ctx, base, body)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(signature.HeaderTimestamp, ts)
	req.Header.Set(signature.HeaderSignature, signature.Sign([]byte(body), ts, []byte(secret)))
	expect("signed slash command", req, http.StatusOK)

	req = slashRequest(ctx, base, body)
	stale := strconv.FormatInt(time.Now().Add(-2*signature.MaxSkew).Unix(), 10)
	req.Header.Set(signature.HeaderTimestamp, stale)
	req.Header.Set(signature.HeaderSignature, signature.Sign([]byte(body), stale, []byte(secret)))
	expect("stale signature", req, http.StatusUnauthorized)

	if sessionSecret := os.Getenv("DESKBRIDGE_SESSION_SECRET"); sessionSecret != "" {
		issuer, err := auth.NewIssuer([]byte(sessionSecret), nil)
		if err != nil {
			logger.Fatal("session issuer", zap.Error(err))
		}
		token, err := issuer.GenerateToken("smoke-"+uuid.NewString(), "smoke@example.com", time.Minute)
		if err != nil {
			logger.Fatal("mint session", zap.Error(err))
		}
		req, _ = http.NewRequestWithContext(ctx, http.MethodGet, base+"/slack/oauth/connect", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		expect("start link", req, http.StatusFound)

		req, _ = http.NewRequestWithContext(ctx, http.MethodPost,
			base+"/v1/tickets/"+uuid.NewString()+"/comments", strings.NewReader(`{"content":"smoke"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		expect("comment on unknown ticket", req, http.StatusNotFound)
	}

	logger.Info("smoke test passed", zap.String("base", base))
}

func slashRequest(ctx context.Context, base, body string) *http.Request {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, base+"/slack/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
