package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lorebound/lorebound-backend/internal/pkg/logger"
	"github.com/lorebound/lorebound-backend/internal/utils"
)

type AIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AIClient is the upstream generation collaborator. StreamReply delivers
// the reply as deltas through onDelta; cancellation is cooperative via ctx
// and an onDelta error aborts the stream. Upstream timeouts belong here,
// not in the session manager.
type AIClient interface {
	StreamReply(ctx context.Context, messages []AIMessage, onDelta func(delta string) error) error
}

// NewAIClientFromEnv returns the OpenAI-compatible streaming client when an
// API key is configured and the offline simulated client otherwise, so a
// fresh local install works without any upstream account.
func NewAIClientFromEnv(log *logger.Logger) AIClient {
	apiKey := utils.GetEnv("OPENAI_API_KEY", "", log)
	if apiKey == "" {
		log.Info("No OPENAI_API_KEY set; using simulated AI client")
		return NewSimulatedAIClient(log)
	}
	return &openAIStreamClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        log.With("service", "OpenAIStreamClient"),
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1", log), "/"),
		model:      utils.GetEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini", log),
	}
}

type openAIStreamClient struct {
	httpClient *http.Client
	log        *logger.Logger
	apiKey     string
	baseURL    string
	model      string
}

type chatCompletionsRequest struct {
	Model    string      `json:"model"`
	Messages []AIMessage `json:"messages"`
	Stream   bool        `json:"stream"`
}

type chatCompletionsChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *openAIStreamClient) StreamReply(ctx context.Context, messages []AIMessage, onDelta func(delta string) error) error {
	body, err := json.Marshal(chatCompletionsRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("openai http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			if payload == "[DONE]" {
				return nil
			}
			continue
		}
		var chunk chatCompletionsChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.log.Warn("bad stream chunk (skipping)", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := onDelta(delta); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("openai stream read: %w", err)
	}
	return nil
}

// simulatedAIClient produces a canned reply token-by-token on a timer. It
// keeps local development and tests honest about streaming behavior
// (ordering, cancellation mid-stream) without a network dependency.
type simulatedAIClient struct {
	log      *logger.Logger
	interval time.Duration
}

func NewSimulatedAIClient(log *logger.Logger) AIClient {
	return &simulatedAIClient{
		log:      log.With("service", "SimulatedAIClient"),
		interval: 25 * time.Millisecond,
	}
}

func (c *simulatedAIClient) StreamReply(ctx context.Context, messages []AIMessage, onDelta func(delta string) error) error {
	lastUser := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			lastUser = messages[i].Content
			break
		}
	}
	reply := fmt.Sprintf("*pauses thoughtfully* You said: %q. That is quite the tale. Tell me more about it.", lastUser)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for _, word := range strings.SplitAfter(reply, " ") {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := onDelta(word); err != nil {
			return err
		}
	}
	return nil
}
