package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type GPTResponse struct {
	Department string `json:"department"`
	Reason     string `json:"reason"`
}

type GPTClassifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	fallback    Classifier
	logger      *zap.Logger
}

func NewGPTClassifier(apiKey string, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     10 * time.Second,
		fallback:    NewSimpleClassifier(1),
		logger:      logger.Named("classifier"),
	}
}

func (c *GPTClassifier) Suggest(ctx context.Context, content string, departments []string) string {
	if len(departments) == 0 {
		return ""
	}

	prompt := fmt.Sprintf(`A user wrote to a support team. Pick the single best department for the message.

Departments: %s

Return the response as a JSON object with this structure:
{
    "department": "one of the departments above",
    "reason": "short reason"
}

Message: %s`, strings.Join(departments, ", "), content)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		c.logger.Error("Failed to get GPT response", zap.Error(err))
		return c.fallback.Suggest(ctx, content, departments)
	}
	if len(resp.Choices) == 0 {
		return c.fallback.Suggest(ctx, content, departments)
	}

	var gptResponse GPTResponse
	response := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(response), &gptResponse); err != nil {
		c.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", response))
		return c.fallback.Suggest(ctx, content, departments)
	}

	for _, dept := range departments {
		if strings.EqualFold(dept, strings.TrimSpace(gptResponse.Department)) {
			return dept
		}
	}
	c.logger.Warn("GPT suggested an unknown department", zap.String("department", gptResponse.Department))
	return c.fallback.Suggest(ctx, content, departments)
}
