// Package whatsapp wraps the WhatsApp Business Cloud API for outbound
// messaging.
//
// It provides methods for sending texts, images, interactive buttons
// and lists, template messages, and read acknowledgments. Cloud API
// limits (button title/id lengths, body length, button count) are
// enforced here before any HTTP call.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/models"
)

// DefaultBaseURL is the Graph API endpoint root.
const DefaultBaseURL = "https://graph.facebook.com"

// Sender is the outbound capability set consumed by the flow handlers
// and the scheduled jobs. Client implements it against the Cloud API;
// tests implement it with fakes.
type Sender interface {
	SendText(ctx context.Context, to, body string, replyToID string) error
	SendImage(ctx context.Context, to, imageURL string) error
	SendButtons(ctx context.Context, to, body string, buttons []models.Button) error
	SendList(ctx context.Context, to, header, body string, sections []models.ListSection) error
	SendTemplate(ctx context.Context, to string, tpl Template) error
	MarkRead(ctx context.Context, messageID string) error
}

// Template describes a pre-approved template send.
type Template struct {
	Name         string
	LanguageCode string
	BodyParams   []string
	HeaderImage  string // optional image header link
	FlowButton   bool   // attach a flow button component (surveys)
}

// Opts holds configuration options for the Cloud API client.
type Opts struct {
	BaseURL     string
	APIVersion  string
	HTTPClient  *http.Client
	Sandbox     bool
	TestNumbers []string
}

// Option defines a configuration option for the client.
type Option func(*Opts)

// WithBaseURL overrides the Graph API root, mainly for tests.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// WithAPIVersion sets the Graph API version segment (e.g. "v21.0").
func WithAPIVersion(v string) Option {
	return func(o *Opts) { o.APIVersion = v }
}

// WithHTTPClient sets the HTTP client used for Graph API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithSandbox restricts sends to the given test numbers. Sends to any
// other recipient are logged and skipped without error.
func WithSandbox(testNumbers []string) Option {
	return func(o *Opts) {
		o.Sandbox = true
		o.TestNumbers = testNumbers
	}
}

// Client talks to the WhatsApp Business Cloud API.
type Client struct {
	baseURL     string
	apiVersion  string
	token       string
	phoneID     string
	http        *http.Client
	sandbox     bool
	testNumbers map[string]struct{}
}

// NewClient creates a Cloud API client for the given business phone
// number id and access token, applying any provided options.
func NewClient(phoneID, token string, opts ...Option) (*Client, error) {
	if phoneID == "" || token == "" {
		return nil, fmt.Errorf("whatsapp: phone number id and api token are required")
	}
	cfg := Opts{BaseURL: DefaultBaseURL, APIVersion: "v21.0", HTTPClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Client{
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		token:      token,
		phoneID:    phoneID,
		http:       cfg.HTTPClient,
		sandbox:    cfg.Sandbox,
	}
	if cfg.Sandbox {
		c.testNumbers = make(map[string]struct{}, len(cfg.TestNumbers))
		for _, n := range cfg.TestNumbers {
			c.testNumbers[n] = struct{}{}
		}
	}
	slog.Debug("WhatsApp client created", "api_version", c.apiVersion, "sandbox", c.sandbox)
	return c, nil
}

// TruncateBody clamps body text to the Cloud API limit.
func TruncateBody(body string) string {
	if len(body) > models.MaxBodyLength {
		return body[:models.MaxBodyLength]
	}
	return body
}

// sanitizeButton applies the Cloud API button constraints: ids have
// whitespace replaced and are clamped to 256 chars, titles to 20.
func sanitizeButton(b models.Button) models.Button {
	id := strings.ReplaceAll(b.ID, " ", "_")
	if len(id) > models.MaxButtonIDLength {
		id = id[:models.MaxButtonIDLength]
	}
	title := b.Title
	if len(title) > models.MaxButtonTitleLength {
		title = title[:models.MaxButtonTitleLength]
	}
	return models.Button{ID: id, Title: title}
}

func (c *Client) skipSandboxed(to, kind string) bool {
	if !c.sandbox {
		return false
	}
	if _, ok := c.testNumbers[to]; ok {
		return false
	}
	slog.Warn("WhatsApp sandbox: recipient not in test list, send skipped", "to", to, "kind", kind)
	return true
}

// post sends a payload to the /{version}/{phoneID}/messages endpoint.
func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: graph api call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("whatsapp: graph api status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// SendText sends a plain text message. A non-empty replyToID attaches
// the message as a contextual reply.
func (c *Client) SendText(ctx context.Context, to, body string, replyToID string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	if c.skipSandboxed(to, "text") {
		return nil
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": TruncateBody(body)},
	}
	if replyToID != "" {
		payload["context"] = map[string]string{"message_id": replyToID}
	}
	return c.post(ctx, payload)
}

// SendImage sends an image by link.
func (c *Client) SendImage(ctx context.Context, to, imageURL string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if c.skipSandboxed(to, "image") {
		return nil
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "image",
		"image":             map[string]string{"link": imageURL},
	}
	return c.post(ctx, payload)
}

// SendButtons sends an interactive message with up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []models.Button) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if c.skipSandboxed(to, "buttons") {
		return nil
	}
	if len(buttons) > models.MaxButtons {
		buttons = buttons[:models.MaxButtons]
	}
	actions := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		sb := sanitizeButton(b)
		actions = append(actions, map[string]any{
			"type":  "reply",
			"reply": map[string]string{"id": sb.ID, "title": sb.Title},
		})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": TruncateBody(body)},
			"action": map[string]any{"buttons": actions},
		},
	}
	return c.post(ctx, payload)
}

// SendList sends an interactive list message.
func (c *Client) SendList(ctx context.Context, to, header, body string, sections []models.ListSection) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if c.skipSandboxed(to, "list") {
		return nil
	}
	secs := make([]map[string]any, 0, len(sections))
	for _, s := range sections {
		rows := make([]map[string]string, 0, len(s.Rows))
		for _, r := range s.Rows {
			row := map[string]string{
				"id":    strings.ReplaceAll(r.ID, " ", "_"),
				"title": r.Title,
			}
			if r.Description != "" {
				row["description"] = r.Description
			}
			rows = append(rows, row)
		}
		secs = append(secs, map[string]any{"title": s.Title, "rows": rows})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "list",
			"header": map[string]string{"type": "text", "text": header},
			"body":   map[string]string{"text": TruncateBody(body)},
			"action": map[string]any{"button": "Ver opciones", "sections": secs},
		},
	}
	return c.post(ctx, payload)
}

// SendTemplate sends a pre-approved template message with optional body
// parameters, image header, and flow button.
func (c *Client) SendTemplate(ctx context.Context, to string, tpl Template) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if tpl.Name == "" || tpl.LanguageCode == "" {
		return models.ErrMissingTemplateName
	}
	if c.skipSandboxed(to, "template") {
		return nil
	}
	var components []map[string]any
	if tpl.HeaderImage != "" {
		components = append(components, map[string]any{
			"type": "header",
			"parameters": []map[string]any{
				{"type": "image", "image": map[string]string{"link": tpl.HeaderImage}},
			},
		})
	}
	if len(tpl.BodyParams) > 0 {
		params := make([]map[string]string, 0, len(tpl.BodyParams))
		for _, p := range tpl.BodyParams {
			params = append(params, map[string]string{"type": "text", "text": strings.TrimSpace(p)})
		}
		components = append(components, map[string]any{"type": "body", "parameters": params})
	}
	if tpl.FlowButton {
		components = append(components, map[string]any{
			"type":     "button",
			"sub_type": "flow",
			"index":    "0",
			"parameters": []map[string]any{
				{"type": "action", "action": map[string]any{}},
			},
		})
	}
	template := map[string]any{
		"name":     tpl.Name,
		"language": map[string]string{"code": tpl.LanguageCode},
	}
	if len(components) > 0 {
		template["components"] = components
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "template",
		"template":          template,
	}
	return c.post(ctx, payload)
}

// MarkRead acknowledges an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	return c.post(ctx, payload)
}
