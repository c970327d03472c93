// Package aiworker runs the automated players: it builds the feature row for
// the open round, asks each configured model for a call and submits it
// through the public API like any other client.
package aiworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kasouyosou/internal/config"
	"kasouyosou/internal/storage"
)

// ActiveRound is the part of the open round the worker needs.
type ActiveRound struct {
	ID      int64     `json:"id"`
	StartAt time.Time `json:"start_at"`
}

// Submitted is the API's answer to a prediction.
type Submitted struct {
	ID          int64            `json:"id"`
	GameRoundID int64            `json:"game_round_id"`
	Choice      storage.Choice   `json:"choice"`
	User        storage.UserMini `json:"user"`
}

// API is the game API as seen by the worker.
type API interface {
	ActiveRound(ctx context.Context) (*ActiveRound, error)
	SubmitPrediction(ctx context.Context, roundID int64, userUID string, choice storage.Choice) (*Submitted, error)
}

// APIError is a non-2xx answer from the game API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIClient talks to the game's HTTP API.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(cfg config.AIWorkerConfig) *APIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// ActiveRound returns the open round, or nil when none is open.
func (c *APIClient) ActiveRound(ctx context.Context) (*ActiveRound, error) {
	var round *ActiveRound
	if err := c.do(ctx, http.MethodGet, "/game_rounds/active", nil, &round); err != nil {
		return nil, err
	}
	return round, nil
}

func (c *APIClient) SubmitPrediction(ctx context.Context, roundID int64, userUID string, choice storage.Choice) (*Submitted, error) {
	body := map[string]any{"user_uid": userUID, "choice": int(choice)}
	var out Submitted
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/game_rounds/%d/predictions", roundID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		if resp.StatusCode/100 != 2 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}
