package dto

import "encoding/json"

// OpenAI-compatible chat completion wire types.

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponseFormat struct {
	Type string `json:"type"`
}

type ChatCompletionRequest struct {
	Model          string              `json:"model"`
	Messages       []ChatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *ChatResponseFormat `json:"response_format,omitempty"`
}

type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Choices []ChatChoice `json:"choices"`
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ExtractionPayload is the JSON object the model is asked to return.
// Fields stay raw so loosely typed values can be coerced.
type ExtractionPayload struct {
	Items []RawRequirementItem `json:"items"`
}

type RawRequirementItem struct {
	Description    string          `json:"description"`
	Quantity       json.RawMessage `json:"quantity"`
	Unit           string          `json:"unit"`
	UnitPrice      json.RawMessage `json:"unit_price"`
	Specifications json.RawMessage `json:"specifications"`
	Category       json.RawMessage `json:"category"`
}
