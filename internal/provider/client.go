package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = time.Second
)

// Client talks to an OpenAI-compatible chat completions endpoint
// (OpenAI, Mistral, or any proxy exposing the same contract).
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	debug      bool
	backoff    time.Duration
}

// NewClient creates a client for the default OpenAI endpoint.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		backoff: initialBackoff,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// SetDebug enables error codes in user-facing messages and verbose logging.
func (c *Client) SetDebug(debug bool) { c.debug = debug }

// SetTimeout overrides the per-attempt HTTP timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// Complete sends a chat completion and returns the first choice's content.
// 5xx responses are retried up to maxRetries times with exponential backoff
// (1s, 2s, 4s); every other failure is returned immediately.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	body, err := json.Marshal(buildChatRequest(req))
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries + 1 {
		comp, err := c.doChat(ctx, body)
		if err == nil {
			slog.Debug("chat completion done",
				"model", req.Model,
				"total_tokens", comp.TotalTokens,
				"attempts", attempt+1,
			)
			return comp, nil
		}

		if !isServerError(err) {
			return Completion{}, err
		}

		lastErr = err
		if attempt < maxRetries {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			slog.Warn("provider server error, retrying", "error", err, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return Completion{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	slog.Error("provider still failing after retries", "retries", maxRetries, "error", lastErr)
	return Completion{}, lastErr
}

func buildChatRequest(req Request) chatRequest {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)
	if len(req.Images) > 0 {
		msgs = attachImages(msgs, req.Images)
	}

	cr := chatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		cr.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return cr
}

func (c *Client) doChat(ctx context.Context, body []byte) (Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Completion{}, ctxErr
		}
		return Completion{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, &TransportError{Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Completion{}, newAPIError(resp.StatusCode, respBody, c.debug)
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return Completion{}, &FormatError{Reason: "invalid JSON envelope: " + err.Error(), Body: string(respBody)}
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == nil {
		return Completion{}, &FormatError{Reason: "missing choices[0].message.content", Body: string(respBody)}
	}

	return Completion{
		Content:     *cr.Choices[0].Message.Content,
		Model:       cr.Model,
		TotalTokens: cr.Usage.TotalTokens,
	}, nil
}

func isServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 500
}

// ListModels returns the models exposed by the provider. Used as a
// reachability and credentials check.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, newAPIError(resp.StatusCode, body, c.debug)
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
