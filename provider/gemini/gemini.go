package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Gemini models endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Client calls generateContent with Google Search grounding enabled on every request.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type part struct {
	Text *string `json:"text,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

// request is the generateContent payload
type request struct {
	Contents []content `json:"contents"`
	Tools    []tool    `json:"tools"`
}

// response is the subset of generateContent output we read
type response struct {
	Candidates []struct {
		Content *struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type errorBody struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a client. A zero timeout leaves the transport default in place.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the underlying HTTP client (tests, custom transports).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Generate sends one grounded generation request and returns the first candidate's text.
func (c *Client) Generate(ctx context.Context, credential, modelID, prompt string) (string, error) {
	text := prompt
	body := request{
		Contents: []content{{Parts: []part{{Text: &text}}}},
		Tools:    []tool{{GoogleSearch: &struct{}{}}},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, url.PathEscape(modelID), url.QueryEscape(credential))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Message: redact(err.Error(), credential), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Status: resp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &TransportError{Status: resp.StatusCode, Message: errorMessage(resp, raw)}
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return extract(parsed)
}

func extract(r response) (string, error) {
	if len(r.Candidates) > 0 {
		cand := r.Candidates[0]
		if cand.Content != nil && len(cand.Content.Parts) > 0 && cand.Content.Parts[0].Text != nil {
			return *cand.Content.Parts[0].Text, nil
		}
		if cand.FinishReason != "" && cand.FinishReason != "STOP" {
			return "", &UpstreamIncompleteError{Reason: cand.FinishReason}
		}
	}
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return "", &ContentBlockedError{Reason: r.PromptFeedback.BlockReason}
	}
	return "", ErrExtractionFailed
}

// errorMessage prefers {"error":{"message":...}} and falls back to the raw body.
func errorMessage(resp *http.Response, raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error != nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}

// redact keeps the API key out of error strings; net/http errors echo the full URL.
func redact(s, credential string) string {
	if credential == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(credential), "REDACTED")
	return strings.ReplaceAll(s, credential, "REDACTED")
}
