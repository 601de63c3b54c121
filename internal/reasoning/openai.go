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
	// DefaultOpenAIURL is the OpenAI API root.
	DefaultOpenAIURL = "https://api.openai.com/v1"
	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "gpt-5-mini"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type openAIResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// OpenAI calls the chat completions endpoint in JSON mode.
type OpenAI struct {
	apiKey string
	settings
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	return &OpenAI{
		apiKey:   strings.TrimSpace(apiKey),
		settings: newSettings(DefaultOpenAIURL, DefaultOpenAIModel, opts),
	}
}

// Model returns the configured model.
func (c *OpenAI) Model() string { return c.model }

// Reason implements Reasoner.
func (c *OpenAI) Reason(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", &TransportError{Backend: BackendOpenAI, Err: ErrNoAPIKey}
	}
	body, err := json.Marshal(openAIRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimSuffix(c.baseURL, "/") + "/chat/completions"
	return c.call(ctx, BackendOpenAI, func(ctx context.Context) (string, error) {
		return c.once(ctx, url, body)
	})
}

func (c *OpenAI) once(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", util.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := util.ReadLimited(resp.Body, maxResponseSize)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr openAIError
		msg := ""
		if json.Unmarshal(respBody, &apiErr) == nil {
			msg = apiErr.Error.Message
		}
		return "", &StatusError{Code: resp.StatusCode, Message: msg}
	}

	var out openAIResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}
