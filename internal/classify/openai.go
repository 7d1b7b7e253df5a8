package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/raaihank/mailguard/internal/config"
)

const systemPrompt = `You categorise customer support emails.
Personal data has been replaced by placeholders such as [full_name] or [email]; never try to infer it.
Answer with JSON only: {"label": "<one of the allowed labels>", "confidence": <number between 0 and 1>}`

// OpenAIClassifier asks an OpenAI-compatible chat model for the label and
// falls back to another classifier when the call fails or the answer is
// not one of the allowed labels
type OpenAIClassifier struct {
	client    *openai.Client
	model     string
	maxTokens int
	labels    []string
	fallback  Classifier
	logger    *zap.Logger
}

// NewOpenAIClassifier creates a chat completion classifier over the labels
// of fallback
func NewOpenAIClassifier(cfg config.OpenAIConfig, fallback Classifier, logger *zap.Logger) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	if fallback == nil || len(fallback.Labels()) == 0 {
		return nil, fmt.Errorf("fallback classifier with labels is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger.Info("OpenAI classifier initialized",
		zap.String("model", cfg.Model),
		zap.Bool("custom_base_url", cfg.BaseURL != ""),
		zap.Strings("labels", fallback.Labels()))

	return &OpenAIClassifier{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		labels:    fallback.Labels(),
		fallback:  fallback,
		logger:    logger,
	}, nil
}

type modelAnswer struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classify sends the masked text to the model
func (oc *OpenAIClassifier) Classify(ctx context.Context, maskedText string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	resp, err := oc.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: oc.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt + "\nAllowed labels: " + strings.Join(oc.labels, ", "),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: maskedText,
			},
		},
		Temperature: 0,
		MaxTokens:   oc.maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		oc.logger.Warn("OpenAI classification failed, using fallback", zap.Error(err))
		return oc.fallback.Classify(ctx, maskedText)
	}

	if len(resp.Choices) == 0 {
		oc.logger.Warn("OpenAI returned no choices, using fallback")
		return oc.fallback.Classify(ctx, maskedText)
	}

	label, confidence, ok := oc.parseAnswer(resp.Choices[0].Message.Content)
	if !ok {
		oc.logger.Warn("OpenAI answer not usable, using fallback",
			zap.Int("answer_length", len(resp.Choices[0].Message.Content)))
		return oc.fallback.Classify(ctx, maskedText)
	}

	oc.logger.Debug("OpenAI classification",
		zap.String("label", label),
		zap.Float64("confidence", confidence),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return Result{Label: label, Confidence: confidence}, nil
}

// parseAnswer accepts a JSON answer, optionally wrapped in a code fence, and
// maps the label case-insensitively onto the allowed set
func (oc *OpenAIClassifier) parseAnswer(content string) (string, float64, bool) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var answer modelAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &answer); err != nil {
		return "", 0, false
	}

	for _, l := range oc.labels {
		if strings.EqualFold(l, strings.TrimSpace(answer.Label)) {
			confidence := answer.Confidence
			if confidence < 0 {
				confidence = 0
			}
			if confidence > 1 {
				confidence = 1
			}
			return l, confidence, true
		}
	}
	return "", 0, false
}

// Labels returns the allowed labels
func (oc *OpenAIClassifier) Labels() []string {
	return append([]string(nil), oc.labels...)
}

// New builds the classifier selected by cfg.Backend
func New(cfg config.ClassifierConfig, logger *zap.Logger) (Classifier, error) {
	kc, err := NewKeywordClassifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "", "keyword":
		return kc, nil
	case "openai":
		oc, err := NewOpenAIClassifier(cfg.OpenAI, kc, logger)
		if err != nil {
			return nil, err
		}
		return oc, nil
	default:
		return nil, fmt.Errorf("unknown classifier backend: %s", cfg.Backend)
	}
}
