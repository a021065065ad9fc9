package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
)

type httpConfig struct {
	Endpoint   string `json:"endpoint"`
	Token      string `json:"token"`
	TimeoutSec int    `json:"timeout_sec"`
}

// httpClient talks to a remote parsing service with a submit/poll contract.
type httpClient struct {
	endpoint string
	token    string
	client   *http.Client
}

func init() {
	Register("http", createHTTPClient)
}

func createHTTPClient(args interface{}) (Client, error) {
	config := &httpConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Endpoint == "" {
		return nil, fmt.Errorf("parser endpoint is required")
	}
	if config.TimeoutSec == 0 {
		config.TimeoutSec = 30
	}
	return &httpClient{
		endpoint: strings.TrimSuffix(config.Endpoint, "/"),
		token:    config.Token,
		client:   &http.Client{Timeout: time.Duration(config.TimeoutSec) * time.Second},
	}, nil
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (c *httpClient) Submit(ctx context.Context, raw []byte, mimeType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/parse", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mimeType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: submit: %v", appErr.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusUnprocessableEntity {
		return "", fmt.Errorf("%w: parser rejected mime type %s", appErr.ErrUnparseable, mimeType)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: submit status %d", appErr.ErrTransient, resp.StatusCode)
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode submit response: %v", appErr.ErrTransient, err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("%w: empty job id from parser", appErr.ErrTransient)
	}
	return out.JobID, nil
}

func (c *httpClient) Status(ctx context.Context, externalJobID string) (State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/parse/"+externalJobID+"/status", nil)
	if err != nil {
		return StateError, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return StateError, fmt.Errorf("%w: status: %v", appErr.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StateError, fmt.Errorf("%w: status %d", appErr.ErrTransient, resp.StatusCode)
	}
	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StateError, fmt.Errorf("%w: decode status response: %v", appErr.ErrTransient, err)
	}
	switch out.Status {
	case "pending", "running":
		return StatePending, nil
	case "done":
		return StateDone, nil
	case "error":
		return StateError, nil
	default:
		return StateError, fmt.Errorf("%w: unknown parser status %q", appErr.ErrTransient, out.Status)
	}
}

func (c *httpClient) Result(ctx context.Context, externalJobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/parse/"+externalJobID+"/result", nil)
	if err != nil {
		return "", err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: result: %v", appErr.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return "", fmt.Errorf("%w: parser reported unparseable input", appErr.ErrUnparseable)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: result status %d", appErr.ErrTransient, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read result: %v", appErr.ErrTransient, err)
	}
	return string(body), nil
}
