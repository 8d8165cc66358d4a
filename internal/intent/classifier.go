package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"aide/internal/models"
)

// Classifier turns free text into the JSON payload understood by Decode.
type Classifier interface {
	Classify(ctx context.Context, channel models.Source, text string) ([]byte, error)
}

const systemPrompt = `You are a personal assistant that manages the owner's calendar.
Current time: %s (%s).
Channel: %s.
Classify the input and answer with a single JSON object.
"intent" is one of: schedule, reschedule, cancel, search, none.
"details" holds what, when, how, where and with_whom of the appointment.
"when" uses the format YYYY-MM-DD HH:MM:SS in the owner's time zone; use 00:00:00 to mean a whole day.
For reschedule, "when" is the new time and "previous_when" the time of the booking being moved, if known.
Set "task_id" only when the input names one. Set "error" when the request cannot be understood.`

var payloadSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"intent": {
			Type: jsonschema.String,
			Enum: []string{"schedule", "reschedule", "cancel", "search", "none"},
		},
		"details": {
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"what":          {Type: jsonschema.String, Description: "Purpose of the appointment"},
				"when":          {Type: jsonschema.String, Description: "YYYY-MM-DD HH:MM:SS"},
				"how":           {Type: jsonschema.String},
				"where":         {Type: jsonschema.String},
				"with_whom":     {Type: jsonschema.String},
				"previous_when": {Type: jsonschema.String, Description: "Current time of a booking being rescheduled"},
			},
		},
		"task_id":  {Type: jsonschema.String},
		"priority": {Type: jsonschema.String},
		"error":    {Type: jsonschema.String},
	},
	Required: []string{"intent"},
}

// OpenAIClassifier classifies text with an OpenAI chat model.
type OpenAIClassifier struct {
	client   *openai.Client
	logger   *slog.Logger
	model    string
	location *time.Location
	now      func() time.Time
}

// NewOpenAIClassifier creates a classifier using the given API key and model.
func NewOpenAIClassifier(logger *slog.Logger, apiKey, model string, loc *time.Location) *OpenAIClassifier {
	return NewOpenAIClassifierWithConfig(logger, openai.DefaultConfig(apiKey), model, loc)
}

// NewOpenAIClassifierWithConfig creates a classifier from a full client config.
func NewOpenAIClassifierWithConfig(logger *slog.Logger, cfg openai.ClientConfig, model string, loc *time.Location) *OpenAIClassifier {
	if model == "" {
		model = openai.GPT4oMini
	}
	if loc == nil {
		loc = time.UTC
	}
	return &OpenAIClassifier{
		client:   openai.NewClientWithConfig(cfg),
		logger:   logger,
		model:    model,
		location: loc,
		now:      time.Now,
	}
}

// Classify sends text to the model and returns its JSON answer.
func (c *OpenAIClassifier) Classify(ctx context.Context, channel models.Source, text string) ([]byte, error) {
	now := c.now().In(c.location)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(systemPrompt, now.Format(time.DateTime), c.location, channel),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "intent",
				Schema: &payloadSchema,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to classify input: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrClassifierMalformed)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("Classified input", "channel", channel, "model", c.model, "response", content)
	return []byte(content), nil
}
