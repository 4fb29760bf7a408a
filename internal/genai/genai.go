// Package genai provides the generative responder for the free-form
// question step, backed by Google's Gemini API.
package genai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModelID is used when no model is configured.
const DefaultModelID = "gemini-2.5-flash"

const systemInstruction = "Eres un asistente de atención a clientes de Tecnología Inalámbrica del Istmo. " +
	"Responde de forma clara y directa como si fuera por WhatsApp. No saludes, responde solo la duda."

// Responder generates a reply to a customer question. The flow package
// consumes this interface; tests provide fakes.
type Responder interface {
	Generate(ctx context.Context, question string) (string, error)
}

// Client wraps the Gemini API, fronting every question with the static
// business information document.
type Client struct {
	client   *genai.Client
	modelID  string
	infoPath string
}

// NewClient creates a Gemini responder. infoPath points at the business
// knowledge document prepended to every question; it is read once per
// invocation so edits take effect without a restart.
func NewClient(ctx context.Context, apiKey, modelID, infoPath string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("genai: api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = DefaultModelID
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	return &Client{client: client, modelID: modelID, infoPath: infoPath}, nil
}

// Generate answers a customer question grounded on the business
// information document.
func (c *Client) Generate(ctx context.Context, question string) (string, error) {
	var info string
	if c.infoPath != "" {
		data, err := os.ReadFile(c.infoPath)
		if err != nil {
			return "", fmt.Errorf("genai: read business info: %w", err)
		}
		info = string(data)
	}

	model := c.client.GenerativeModel(c.modelID)
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemInstruction))

	prompt := question
	if info != "" {
		prompt = info + "\n\nUsuario: " + question + "\nAsistente:"
	}
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("genai: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("genai: empty response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	answer := strings.TrimSpace(b.String())
	if answer == "" {
		return "", fmt.Errorf("genai: response had no text parts")
	}
	return answer, nil
}

// Close releases the underlying API connection.
func (c *Client) Close() error {
	return c.client.Close()
}
