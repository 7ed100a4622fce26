package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/kilianp07/tankwatch/auth"
	"github.com/kilianp07/tankwatch/core/model"
)

// WebhookConfig configures WebhookNotifier. Kinds restricts the alert kinds
// that are posted; empty posts every kind.
type WebhookConfig struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
	Kinds   []string      `json:"kinds"`
	Auth    auth.Conf     `json:"auth"`
}

// WebhookNotifier posts alert events as JSON, for example to a fuel
// ordering system. Calls are authenticated with OAuth2 client credentials
// when Auth is configured.
type WebhookNotifier struct {
	url   string
	kinds []string
	http  *http.Client
	creds *auth.ClientCred
}

func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook notifier requires url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	n := &WebhookNotifier{url: cfg.URL, kinds: cfg.Kinds, http: &http.Client{Timeout: cfg.Timeout}}
	if cfg.Auth.Enabled() {
		n.creds = auth.NewClientCred(cfg.Auth)
	}
	return n, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev model.AlertEvent) error {
	if len(n.kinds) > 0 && !slices.Contains(n.kinds, string(ev.Kind)) {
		return nil
	}
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	status, err := n.post(ctx, payload)
	if err == nil && status == http.StatusUnauthorized && n.creds != nil {
		if _, err := n.creds.ForceRefresh(ctx); err != nil {
			return err
		}
		status, err = n.post(ctx, payload)
	}
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("webhook %s: status %d", n.url, status)
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.creds != nil {
		if err := n.creds.SetAuthHeader(req); err != nil {
			return 0, err
		}
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
