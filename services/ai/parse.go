package ai

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/dto"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/models"
)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

func parseCompletion(body []byte) (*models.ExtractedRequirements, error) {
	var completion dto.ChatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, errors.Wrap(ierrors.ErrMalformedResponse, "response is not JSON")
	}
	if len(completion.Choices) == 0 {
		return nil, errors.Wrap(ierrors.ErrMalformedResponse, "response has no choices")
	}
	return ParseRequirements(completion.Choices[0].Message.Content)
}

// ParseRequirements decodes the model's JSON content into requirement items.
// Numbers given as strings ("20 pcs", "$1,250.00") are coerced; values that
// cannot be read become absent rather than failing the whole payload.
func ParseRequirements(content string) (*models.ExtractedRequirements, error) {
	content = stripCodeFence(content)
	if content == "" {
		return nil, errors.Wrap(ierrors.ErrMalformedResponse, "empty content")
	}

	var payload dto.ExtractionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		// some models answer with a bare array
		var items []dto.RawRequirementItem
		if errArr := json.Unmarshal([]byte(content), &items); errArr != nil {
			return nil, errors.Wrapf(ierrors.ErrMalformedResponse, "content is not a JSON object: %v", err)
		}
		payload.Items = items
	}

	result := &models.ExtractedRequirements{Items: make([]models.RequirementItem, 0, len(payload.Items))}
	for _, raw := range payload.Items {
		item := models.RequirementItem{
			Description:    strings.TrimSpace(raw.Description),
			Unit:           strings.TrimSpace(raw.Unit),
			Specifications: rawString(raw.Specifications),
			Category:       rawString(raw.Category),
		}
		if qty, ok := rawNumber(raw.Quantity); ok {
			item.Quantity = qty
		}
		if price, ok := rawNumber(raw.UnitPrice); ok && price >= 0 {
			item.UnitPrice = models.Some(price)
		}

		if !item.HasDescription() && !item.HasQuantity() && !item.HasUnitPrice() && !item.HasSpecifications() && !item.HasCategory() {
			continue
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content), "```"))
}

func rawNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	match := numberPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func rawString(raw json.RawMessage) models.Optional[string] {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.None[string]()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s == "" {
			return models.None[string]()
		}
		return models.Some(s)
	}

	// objects, arrays and numbers are kept in their JSON form
	return models.Some(string(raw))
}
