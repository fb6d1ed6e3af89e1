// Package interpret turns raw chart positions into short readable
// interpretations using an OpenAI chat model. It is an optional enrichment:
// the session flow works without it, and any failure here degrades to
// engine-provided (or empty) interpretations.
package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/birth-rectifier/backend/internal/storage/models"
	"github.com/birth-rectifier/backend/pkg/circuitbreaker"
	"github.com/birth-rectifier/backend/pkg/logger"
	"github.com/birth-rectifier/backend/pkg/retry"
)

const systemPrompt = `You are an astrological interpreter. Given planetary positions
from a rectified birth chart, write one short interpretation per planet.

Respond with a JSON array only, no prose around it:
[{"title": "<Planet in Sign>", "text": "<2-3 sentence interpretation>"}]`

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec int) *Client {
	cb := circuitbreaker.New("interpret", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Interpretation client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Interpret(ctx context.Context, chart models.ChartData) ([]models.Interpretation, error) {
	if len(chart.Planets) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userPrompt := buildPrompt(chart)

	var content string
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				Temperature: c.temperature,
				MaxTokens:   c.maxTokens,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
			})
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("empty completion response")
			}
			content = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("interpretation completion failed: %w", err)
	}

	interps, err := parseInterpretations(content)
	if err != nil {
		return nil, err
	}

	logger.Info("Chart interpretations generated", zap.Int("count", len(interps)))
	return interps, nil
}

func buildPrompt(chart models.ChartData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ascendant: %s at %.1f degrees\n", chart.Ascendant.Sign, chart.Ascendant.Degree)
	for _, p := range chart.Planets {
		fmt.Fprintf(&b, "%s in %s at %.1f degrees", p.Name, p.Sign, p.Degree)
		if p.House > 0 {
			fmt.Fprintf(&b, ", house %d", p.House)
		}
		if p.Retrograde {
			b.WriteString(", retrograde")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func parseInterpretations(content string) ([]models.Interpretation, error) {
	// Models sometimes wrap the JSON in a code fence despite instructions.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var interps []models.Interpretation
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &interps); err != nil {
		return nil, fmt.Errorf("failed to parse interpretations: %w", err)
	}
	return interps, nil
}
