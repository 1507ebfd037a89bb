// Package claude implements llm.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loremind/loremind/core"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

const extractionPrompt = `Analyze the conversation below and extract the named entities it establishes or changes.

Respond with a JSON array only, no prose and no code fences. Each element:
{"name": "...", "type": "CHARACTER" | "LOCATION" | "ITEM", "properties": {"key": "value"}}

Property values must be short strings. When a property refers to another named entity, use that entity's name verbatim as the value. Return [] if there is nothing to extract.

Conversation:
%s`

const summaryPrompt = `Condense the story events below into a brief narrative recap, written in past tense, that preserves every plot-relevant fact: names, places, items, promises, and unresolved threads. Respond with the recap text only.

Events:
%s`

// Config configures the Claude provider.
type Config struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// Model overrides the default model id.
	Model string

	// MaxTokens caps the response length per call.
	MaxTokens int64

	// SystemPrompt is sent as the system block on every call, if set.
	SystemPrompt string
}

// Provider calls the Anthropic Messages API.
type Provider struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
}

// New creates a Claude-backed provider.
func New(cfg Config) *Provider {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return &Provider{
		client:    &client,
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
		system:    cfg.SystemPrompt,
	}
}

// Generate produces the next model turn. Retrieved background context is
// folded into the final user message so the model sees it exactly where the
// question is asked.
func (p *Provider) Generate(ctx context.Context, history []core.Turn, retrieved string) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("%w: empty history", core.ErrGenerationFailed)
	}

	messages := make([]anthropic.MessageParam, 0, len(history))
	for i, turn := range history {
		text := turn.Text
		if retrieved != "" && i == len(history)-1 && turn.Role == core.RoleUser {
			text = "Relevant background information you remember:\n" + retrieved + "\n\n" + text
		}
		switch turn.Role {
		case core.RoleModel:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}

	text, err := p.complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrGenerationFailed, err)
	}
	return text, nil
}

// ExtractEntities asks the model for a JSON description of the entities the
// given turns establish.
func (p *Provider) ExtractEntities(ctx context.Context, turns []core.Turn) ([]core.Entity, error) {
	prompt := fmt.Sprintf(extractionPrompt, renderTurns(turns))
	raw, err := p.complete(ctx, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrGenerationFailed, err)
	}
	return parseEntities(raw)
}

// Summarize condenses the given turns into a narrative recap.
func (p *Provider) Summarize(ctx context.Context, turns []core.Turn) (string, error) {
	prompt := fmt.Sprintf(summaryPrompt, renderTurns(turns))
	text, err := p.complete(ctx, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrGenerationFailed, err)
	}
	return strings.TrimSpace(text), nil
}

// complete runs one Messages API call and concatenates the text blocks.
func (p *Provider) complete(ctx context.Context, messages []anthropic.MessageParam) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages:  messages,
	}
	if p.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

func renderTurns(turns []core.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// parseEntities decodes the extraction response. Models sometimes wrap JSON
// in code fences or prose despite instructions, so everything outside the
// outermost array is discarded before unmarshaling.
func parseEntities(raw string) ([]core.Entity, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON array in response", core.ErrMalformedExtraction)
	}

	var decoded []struct {
		Name       string         `json:"name"`
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedExtraction, err)
	}

	entities := make([]core.Entity, 0, len(decoded))
	for _, d := range decoded {
		if strings.TrimSpace(d.Name) == "" {
			log.Printf("[LLM] Skipping extracted entity with empty name")
			continue
		}
		props := make(map[string]string, len(d.Properties))
		for k, v := range d.Properties {
			if k == "" || v == nil {
				continue
			}
			switch val := v.(type) {
			case string:
				props[k] = val
			default:
				props[k] = fmt.Sprintf("%v", val)
			}
		}
		entities = append(entities, core.Entity{
			Name:       d.Name,
			Type:       core.ParseEntityType(d.Type),
			Properties: props,
		})
	}
	return entities, nil
}
