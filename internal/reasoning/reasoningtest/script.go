// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reasoningtest provides a scripted Reasoner for tests.
package reasoningtest

import (
	"context"
	"fmt"
	"sync"
)

// Reply is one scripted answer.
type Reply struct {
	Text string
	Err  error
}

// Script answers calls from a fixed list of replies in order and records
// every prompt it receives. It is safe for concurrent use.
type Script struct {
	mu      sync.Mutex
	replies []Reply
	prompts []string
	// Block, when set, makes Reason wait for ctx cancellation.
	Block bool
}

// New returns a Script answering with texts in order.
func New(texts ...string) *Script {
	s := &Script{}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

// Then appends a reply.
func (s *Script) Then(r Reply) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return s
}

// Reason implements reasoning.Reasoner.
func (s *Script) Reason(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	call := len(s.prompts)
	var r Reply
	ok := call <= len(s.replies)
	if ok {
		r = s.replies[call-1]
	}
	block := s.Block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if !ok {
		return "", fmt.Errorf("reasoningtest: unexpected call %d", call)
	}
	return r.Text, r.Err
}

// Prompts returns the prompts received so far.
func (s *Script) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Calls returns how many times Reason was called.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}
