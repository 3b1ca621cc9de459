// Package nerclient implements the HTTP client for the external
// named-entity-recognition service.
package nerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

// tagRequest is the wire shape of one tagging call.
type tagRequest struct {
	Values   []string `json:"values"`
	PiiTypes []string `json:"piiTypes"`
}

// tagResponse is the wire shape of the service response.
type tagResponse struct {
	Entities []scan.NerEntity `json:"entities"`
}

// Client calls the NER service over HTTP. It implements scan.NerClient.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a NER client for the configured endpoint. The per-call
// timeout comes from the caller's context; the http.Client timeout is a
// backstop slightly above the largest configured batch timeout.
func NewClient(cfg scan.NerConfig) *Client {
	cfg.ApplyDefaults()
	return &Client{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds+5) * time.Second,
		},
	}
}

// Tag sends one batch of values for entity tagging.
func (c *Client) Tag(ctx context.Context, values []string, piiTypes []string) ([]scan.NerEntity, error) {
	if c.url == "" {
		return nil, errs.New(errs.ErrorTypeInternal, "ner service url is not configured")
	}

	payload, err := json.Marshal(tagRequest{Values: values, PiiTypes: piiTypes})
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeInternal, "failed to marshal ner request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeInternal, "failed to build ner request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.NewTimeoutError("ner batch")
		}
		return nil, errs.Wrap(err, errs.ErrorTypeInternal, "ner service call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.Newf(errs.ErrorTypeInternal, "ner service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed tagResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeInternal, "failed to decode ner response")
	}
	return parsed.Entities, nil
}

var _ scan.NerClient = (*Client)(nil)

// String describes the client for logging.
func (c *Client) String() string {
	return fmt.Sprintf("nerclient{url=%s}", c.url)
}
