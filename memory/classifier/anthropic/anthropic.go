// Package anthropic implements the memory.Classifier interface with the
// Anthropic Messages API, forcing structured output through a tool call.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaymind/memkit/memory"
)

var _ memory.Classifier = (*Classifier)(nil)

// decisionToolName is the tool the model is forced to call; its input is
// the structured decision.
const decisionToolName = "record_decision"

// Config holds classifier configuration.
type Config struct {
	// APIKey authenticates with the Anthropic API. Falls back to the
	// ANTHROPIC_API_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint. Empty means the default.
	BaseURL string `yaml:"base_url"`

	// Model is the model identifier. Defaults to a small fast model;
	// classification is cheap structured extraction, not generation.
	Model string `yaml:"model"`

	// MaxTokens caps the response size. Defaults to 1024.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature defaults to 0.1 for deterministic-leaning decisions.
	Temperature float64 `yaml:"temperature"`
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "claude-3-5-haiku-latest"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.APIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		return fmt.Errorf("anthropic: api_key is required (set it in config or via ANTHROPIC_API_KEY)")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("anthropic: max_tokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}

// Classifier calls the Anthropic API for structured decisions.
type Classifier struct {
	client sdk.Client
	config Config
}

// New creates a classifier. The API key resolves from config first, then
// the ANTHROPIC_API_KEY environment variable.
func New(config Config) (*Classifier, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	// The decision engine degrades gracefully on failure, so SDK-level
	// retries only add latency on the hot path.
	opts = append(opts, option.WithMaxRetries(0))

	return &Classifier{
		client: sdk.NewClient(opts...),
		config: config,
	}, nil
}

// Classify sends the prompt with a single forced tool whose input schema
// is the caller's schema, and returns the tool call's input verbatim.
func (c *Classifier) Classify(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error) {
	tool := sdk.ToolParam{
		Name:        decisionToolName,
		Description: sdk.String("Record the structured decision."),
		InputSchema: inputSchemaFromMap(schema),
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.config.Model),
		MaxTokens:   int64(c.config.MaxTokens),
		Temperature: sdk.Float(c.config.Temperature),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
		Tools: []sdk.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: sdk.ToolChoiceUnionParam{
			OfTool: &sdk.ToolChoiceToolParam{Name: decisionToolName},
		},
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == decisionToolName {
			return json.RawMessage(block.Input), nil
		}
	}

	log.Printf("[CLASSIFIER] Response carried no %s tool call (stop_reason=%s)",
		decisionToolName, resp.StopReason)
	return nil, fmt.Errorf("anthropic response missing tool call")
}

// inputSchemaFromMap converts a JSON Schema object into the SDK's tool
// input schema param.
func inputSchemaFromMap(schema map[string]interface{}) sdk.ToolInputSchemaParam {
	param := sdk.ToolInputSchemaParam{}

	if props, ok := schema["properties"]; ok {
		param.Properties = props
	}
	if req, ok := schema["required"].([]string); ok {
		param.Required = req
	} else if arr, ok := schema["required"].([]interface{}); ok {
		strs := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				strs = append(strs, s)
			}
		}
		param.Required = strs
	}

	return param
}
