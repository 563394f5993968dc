// Package gemini transcribes receipts with a Gemini model. The model is asked
// for a verbatim transcription only; field extraction stays with the rule
// engine so both recognizers feed the same rules.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"pettycash/internal/ocr"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

const transcriptionPrompt = "Transcribe all text printed on this receipt exactly as it appears, " +
	"line by line, keeping labels next to their values (for example \"Total: 250.00\"). " +
	"Do not summarize, translate or add commentary. Return plain text only, without Markdown."

// generator is the subset of genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ ocr.Recognizer = (*Client)(nil)

type Client struct {
	models generator
	model  string
}

// New creates a client. Credentials and backend (Gemini API or Vertex AI) are
// taken from the standard GOOGLE_API_KEY / GOOGLE_GENAI_USE_VERTEXAI /
// GOOGLE_CLOUD_PROJECT / GOOGLE_CLOUD_LOCATION variables.
func New(ctx context.Context, model string) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newWithGenerator(client.Models, model), nil
}

func newWithGenerator(g generator, model string) *Client {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Client{models: g, model: model}
}

// Recognize returns the transcription as a single fragment.
func (c *Client) Recognize(ctx context.Context, image []byte) ([]string, error) {
	if err := ocr.CheckImage(image); err != nil {
		return nil, err
	}
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: transcriptionPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: ocr.ContentType(image),
						Data:     image,
					},
				},
			},
		},
	}
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	text := strings.TrimSpace(stripFences(resp.Text()))
	if text == "" {
		return nil, ocr.ErrNoText
	}
	return []string{text}, nil
}

// stripFences drops a Markdown code fence when the model adds one anyway.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return s
}
