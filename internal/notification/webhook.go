package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// WebhookSender posts a JSON document to a fixed URL.
type WebhookSender struct {
	url          string
	allowPrivate bool
	httpClient   *http.Client
}

// NewWebhookSender creates a webhook sender. Unless allowPrivate is set,
// loopback and private hosts are rejected.
func NewWebhookSender(webhookURL string, allowPrivate bool, client *http.Client) *WebhookSender {
	// Do not follow redirects, which could lead to internal hosts.
	c := *client
	c.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &WebhookSender{url: webhookURL, allowPrivate: allowPrivate, httpClient: &c}
}

func (s *WebhookSender) Type() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, msg *Message) error {
	if err := validateWebhookURL(s.url, s.allowPrivate); err != nil {
		return fmt.Errorf("webhook URL rejected: %w", err)
	}

	payload := map[string]any{
		"subject":  msg.Subject,
		"body":     msg.Body,
		"metadata": msg.Metadata,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Procward-Webhook/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// validateWebhookURL checks the scheme and, unless allowPrivate, that the
// host is public. Literal IPs are checked without a DNS lookup.
func validateWebhookURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if allowPrivate {
		return nil
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "localhost" {
		return fmt.Errorf("loopback addresses not allowed")
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return checkIP(ip)
	}
	ips, err := net.LookupHost(hostname)
	if err != nil {
		return fmt.Errorf("DNS lookup failed for %q: %w", hostname, err)
	}
	for _, ipStr := range ips {
		if ip := net.ParseIP(ipStr); ip != nil {
			if err := checkIP(ip); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("private/internal IP %s not allowed", ip)
	}
	return nil
}
