package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CollectionShape identifies which of the upstream list encodings a body used.
type CollectionShape int

const (
	// ShapeArray is a bare JSON array.
	ShapeArray CollectionShape = iota
	// ShapeEnvelope is {"success": bool, "data": ...}.
	ShapeEnvelope
	// ShapePaged is {"items": [...], "total": n}.
	ShapePaged
	// ShapeObject is any other JSON object.
	ShapeObject
)

func (s CollectionShape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeEnvelope:
		return "envelope"
	case ShapePaged:
		return "paged"
	case ShapeObject:
		return "object"
	}
	return "unknown"
}

// ErrNotCollection is returned for bodies that are neither an array nor an object.
var ErrNotCollection = errors.New("body is not a JSON array or object")

// Collection is a list resource after shape normalization.
// Items is populated for every shape that carries a list; Object holds the
// single value for envelopes wrapping an object and for bare objects.
type Collection struct {
	Shape   CollectionShape
	Success bool
	Items   []json.RawMessage
	Total   int
	Object  json.RawMessage
}

// Len returns the number of items, or 1 for a single object.
func (c Collection) Len() int {
	if c.Items != nil {
		return len(c.Items)
	}
	if len(c.Object) > 0 {
		return 1
	}
	return 0
}

type envelopeShape struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type pagedShape struct {
	Items json.RawMessage `json:"items"`
	Total *int            `json:"total"`
}

// DecodeCollection normalizes the list encodings the backend uses for the same
// logical resource into a Collection.
func DecodeCollection(body []byte) (Collection, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Collection{}, ErrNotCollection
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Collection{}, fmt.Errorf("decode array: %w", err)
		}
		return Collection{Shape: ShapeArray, Success: true, Items: items, Total: len(items)}, nil
	case '{':
	default:
		return Collection{}, ErrNotCollection
	}

	var env envelopeShape
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Collection{}, fmt.Errorf("decode object: %w", err)
	}
	if env.Success != nil {
		c := Collection{Shape: ShapeEnvelope, Success: *env.Success}
		data := bytes.TrimSpace(env.Data)
		switch {
		case len(data) == 0 || bytes.Equal(data, []byte("null")):
		case data[0] == '[':
			if err := json.Unmarshal(data, &c.Items); err != nil {
				return Collection{}, fmt.Errorf("decode envelope data: %w", err)
			}
			c.Total = len(c.Items)
		default:
			c.Object = data
		}
		return c, nil
	}

	var paged pagedShape
	if err := json.Unmarshal(trimmed, &paged); err != nil {
		return Collection{}, fmt.Errorf("decode object: %w", err)
	}
	if items := bytes.TrimSpace(paged.Items); len(items) > 0 && items[0] == '[' {
		c := Collection{Shape: ShapePaged, Success: true}
		if err := json.Unmarshal(items, &c.Items); err != nil {
			return Collection{}, fmt.Errorf("decode items: %w", err)
		}
		c.Total = len(c.Items)
		if paged.Total != nil {
			c.Total = *paged.Total
		}
		return c, nil
	}

	return Collection{Shape: ShapeObject, Success: true, Object: trimmed}, nil
}
