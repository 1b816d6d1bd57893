// Package pdfgen calls the external PDF-generation service used for document
// export. The service authenticates with a static bearer token; there is no
// token exchange or retry here, errors surface to the API layer as-is.
package pdfgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnauthorized = errors.New("pdf service: invalid or expired token")
	ErrBadRequest   = errors.New("pdf service: rejected request")
)

type generateRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Result is the provider's response for a generated document.
type Result struct {
	PDFURL string `json:"pdf_url"`
}

type Client struct {
	client    *http.Client
	baseURL   string
	authToken string
	timeout   time.Duration
}

// New creates a Client for the PDF service at baseURL.
func New(baseURL, authToken string) *Client {
	return &Client{
		client:    &http.Client{},
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		timeout:   30 * time.Second,
	}
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// Generate renders a document into a PDF and returns where the provider put it.
func (c *Client) Generate(ctx context.Context, title, content string) (Result, error) {
	body, err := json.Marshal(generateRequest{Title: title, Content: content})
	if err != nil {
		return Result{}, fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, c.baseURL+"/api/generate-pdf", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Result{}, ErrUnauthorized
	case resp.StatusCode == http.StatusBadRequest:
		return Result{}, ErrBadRequest
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, fmt.Errorf("pdf service: unexpected status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}
	return result, nil
}
