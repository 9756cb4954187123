package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// maxSlackFields is the Block Kit limit for fields in one section.
const maxSlackFields = 10

// SlackSender posts to a Slack incoming webhook using Block Kit. The plain
// text fallback is kept for clients that do not render blocks.
type SlackSender struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackSender creates a Slack incoming-webhook sender.
func NewSlackSender(webhookURL string, client *http.Client) *SlackSender {
	return &SlackSender{webhookURL: webhookURL, httpClient: client}
}

func (s *SlackSender) Type() string { return "slack" }

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func (s *SlackSender) Send(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(slackMessage(msg))
	if err != nil {
		return fmt.Errorf("encoding slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// slackMessage renders the subject as a header, the body as a section and
// the report metadata as fields sorted by key.
func slackMessage(msg *Message) slackPayload {
	text := msg.Body
	if msg.Subject != "" {
		text = fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body)
	}
	p := slackPayload{Text: text}

	if msg.Subject != "" {
		p.Blocks = append(p.Blocks, slackBlock{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: msg.Subject},
		})
	}
	if msg.Body != "" {
		p.Blocks = append(p.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: msg.Body},
		})
	}

	keys := make([]string, 0, len(msg.Metadata))
	for k := range msg.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxSlackFields {
		keys = keys[:maxSlackFields]
	}
	if len(keys) > 0 {
		fields := make([]slackText, len(keys))
		for i, k := range keys {
			fields[i] = slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", k, msg.Metadata[k])}
		}
		p.Blocks = append(p.Blocks, slackBlock{Type: "section", Fields: fields})
	}
	return p
}
