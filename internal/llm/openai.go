package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible endpoint
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	VisionModel string
}

// OpenAIClient talks to any OpenAI-compatible chat completion API
type OpenAIClient struct {
	client      *openai.Client
	model       string
	visionModel string
}

// NewOpenAIClient creates a client for the configured endpoint
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("backend model is required")
	}

	apiKey := "dummy-key" // local endpoints ignore the key
	if cfg.APIKey != "" {
		apiKey = cfg.APIKey
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	vision := cfg.VisionModel
	if vision == "" {
		vision = cfg.Model
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		visionModel: vision,
	}, nil
}

// Complete performs a non-streaming completion
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, c.convertRequest(req))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("backend returned no choices")
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

func (c *OpenAIClient) convertRequest(req *Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	model := c.model
	if len(req.Images) > 0 {
		model = c.visionModel
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.User}}
		for _, img := range req.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: img, Detail: openai.ImageURLDetailAuto},
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.User,
		})
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}
