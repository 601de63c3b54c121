// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/daypilot/internal/util"
)

const (
	// DefaultOllamaURL is the local Ollama server.
	DefaultOllamaURL = "http://localhost:11434"
	// DefaultOllamaModel is used when no model is configured.
	DefaultOllamaModel = "qwen2.5:7b"
)

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// Ollama calls a local Ollama server in JSON format mode.
type Ollama struct {
	settings
}

// NewOllama creates an Ollama backend.
func NewOllama(opts ...Option) *Ollama {
	return &Ollama{settings: newSettings(DefaultOllamaURL, DefaultOllamaModel, opts)}
}

// Model returns the configured model.
func (c *Ollama) Model() string { return c.model }

// Reason implements Reasoner.
func (c *Ollama) Reason(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimSuffix(c.baseURL, "/") + "/api/chat"
	return c.call(ctx, BackendOllama, func(ctx context.Context) (string, error) {
		return c.once(ctx, url, body)
	})
}

func (c *Ollama) once(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", util.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := util.ReadLimited(resp.Body, maxResponseSize)
	if err != nil {
		return "", err
	}

	var out ollamaResponse
	decodeErr := json.Unmarshal(respBody, &out)
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if resp.StatusCode == http.StatusNotFound && msg == "" {
			msg = "model " + c.model + " not found"
		}
		return "", &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to parse response: %w", decodeErr)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	if out.Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return out.Message.Content, nil
}
