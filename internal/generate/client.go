// Package generate turns a finished transcript into derived content
// (social media posts, blog drafts) through an OpenAI-compatible
// chat-completions endpoint.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ContentType selects the output format.
type ContentType string

const (
	ContentSocialMedia ContentType = "social_media"
	ContentBlog        ContentType = "blog"
)

// Request describes what to generate from a transcript.
type Request struct {
	Transcript string
	Type       ContentType
	// Platforms lists target networks for social posts ("twitter",
	// "linkedin", ...). Ignored for blog drafts.
	Platforms []string
	// Context is extra background the model should weave in.
	Context string
	// Audience describes who the content is for.
	Audience string
	// Tags are hashtags or keywords to include.
	Tags []string
}

// Client calls an OpenAI-compatible chat-completions API.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
}

// New creates a client. baseURL is the API root without the
// /chat/completions suffix.
func New(baseURL, model, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

// NewWithHTTPClient creates a client with an injected HTTP client.
func NewWithHTTPClient(baseURL, model, apiKey string, hc *http.Client) *Client {
	c := New(baseURL, model, apiKey)
	c.http = hc
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate produces content from the request's transcript.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return "", errors.New("generate: transcript is empty")
	}
	if c.apiKey == "" {
		return "", errors.New("generate: API key not configured")
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("generate: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generate: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generate: calling API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("generate: reading response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("generate: API returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("generate: API error (status %d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("generate: API returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("generate: API returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

const systemPrompt = "You are a content strategist who repurposes video and " +
	"audio transcripts into polished written content. Preserve the speaker's " +
	"voice and key points. Output only the requested content, no preamble."

// buildPrompt renders one user prompt for the request.
func buildPrompt(req Request) (string, error) {
	var b strings.Builder

	switch req.Type {
	case ContentSocialMedia:
		platforms := req.Platforms
		if len(platforms) == 0 {
			platforms = []string{"twitter"}
		}
		fmt.Fprintf(&b, "Write social media posts for: %s.\n", strings.Join(platforms, ", "))
		b.WriteString("Respect each platform's length limits and tone. Produce one post per platform.\n")
	case ContentBlog:
		b.WriteString("Write a blog post draft with a title, an introduction, " +
			"sectioned body with headings, and a short conclusion.\n")
	default:
		return "", fmt.Errorf("generate: unknown content type %q", req.Type)
	}

	if req.Audience != "" {
		fmt.Fprintf(&b, "Target audience: %s.\n", req.Audience)
	}
	if req.Context != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", req.Context)
	}
	if len(req.Tags) > 0 {
		fmt.Fprintf(&b, "Work in these tags or keywords: %s.\n", strings.Join(req.Tags, ", "))
	}

	b.WriteString("\nTranscript:\n")
	b.WriteString(req.Transcript)
	return b.String(), nil
}
