package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Optional holds a value that may be absent. It encodes as JSON null when absent.
type Optional[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

func (o Optional[T]) OrElse(def T) T {
	if !o.Valid {
		return def
	}
	return o.Value
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// RequirementItem is one requested line item. Description and Quantity are
// required, the rest may be missing from a given extraction.
type RequirementItem struct {
	Description    string            `json:"description"`
	Quantity       float64           `json:"quantity"`
	Unit           string            `json:"unit,omitempty"`
	UnitPrice      Optional[float64] `json:"unit_price"`
	Specifications Optional[string]  `json:"specifications"`
	Category       Optional[string]  `json:"category"`
}

func (i RequirementItem) HasDescription() bool {
	return strings.TrimSpace(i.Description) != ""
}

func (i RequirementItem) HasQuantity() bool {
	return i.Quantity > 0
}

func (i RequirementItem) HasUnitPrice() bool {
	return i.UnitPrice.Valid && i.UnitPrice.Value >= 0
}

func (i RequirementItem) HasSpecifications() bool {
	return i.Specifications.Valid && strings.TrimSpace(i.Specifications.Value) != ""
}

func (i RequirementItem) HasCategory() bool {
	return i.Category.Valid && strings.TrimSpace(i.Category.Value) != ""
}

type ExtractedRequirements struct {
	Items []RequirementItem `json:"items"`
}

func (r *ExtractedRequirements) IsEmpty() bool {
	return r == nil || len(r.Items) == 0
}
