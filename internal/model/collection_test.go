package model

import (
	"errors"
	"testing"
)

func TestDecodeCollection(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantShape CollectionShape
		wantOK    bool
		wantLen   int
		wantTotal int
	}{
		{"bare array", `[{"id":1},{"id":2}]`, ShapeArray, true, 2, 2},
		{"empty array", `[]`, ShapeArray, true, 0, 0},
		{"envelope with list", `{"success":true,"data":[{"id":1}]}`, ShapeEnvelope, true, 1, 1},
		{"envelope with object", `{"success":true,"data":{"id":1}}`, ShapeEnvelope, true, 1, 0},
		{"envelope failure", `{"success":false,"error":"nope"}`, ShapeEnvelope, false, 0, 0},
		{"paged with total", `{"items":[{"id":1},{"id":2}],"total":40}`, ShapePaged, true, 2, 40},
		{"paged without total", `{"items":[{"id":1}]}`, ShapePaged, true, 1, 1},
		{"plain object", `{"id":7,"name":"course"}`, ShapeObject, true, 1, 0},
		{"leading whitespace", "  \n[1,2,3]", ShapeArray, true, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCollection([]byte(tt.body))
			if err != nil {
				t.Fatalf("DecodeCollection() error = %v", err)
			}
			if got.Shape != tt.wantShape {
				t.Errorf("Shape = %v, want %v", got.Shape, tt.wantShape)
			}
			if got.Success != tt.wantOK {
				t.Errorf("Success = %v, want %v", got.Success, tt.wantOK)
			}
			if got.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", got.Len(), tt.wantLen)
			}
			if got.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", got.Total, tt.wantTotal)
			}
		})
	}
}

func TestDecodeCollection_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"string", `"hello"`},
		{"number", `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCollection([]byte(tt.body))
			if !errors.Is(err, ErrNotCollection) {
				t.Errorf("DecodeCollection() error = %v, want ErrNotCollection", err)
			}
		})
	}

	if _, err := DecodeCollection([]byte(`{"broken":`)); err == nil {
		t.Error("DecodeCollection() expected error for truncated object, got nil")
	}
}

func TestResultKind_String(t *testing.T) {
	tests := []struct {
		kind ResultKind
		want string
	}{
		{ResultPassthrough, "passthrough"},
		{ResultRecovered, "recovered"},
		{ResultAuthError, "auth_error"},
		{ResultMock, "mock"},
		{ResultFailure, "failure"},
		{ResultKind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ResultKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestResult_Clone(t *testing.T) {
	r := &Result{StatusCode: 200, Header: map[string][]string{"Content-Type": {"application/json"}}, Body: []byte(`{}`)}
	c := r.Clone()
	c.Header.Set("Content-Type", "text/plain")

	if r.Header.Get("Content-Type") != "application/json" {
		t.Error("Clone() shares header map with original")
	}
	if c.StatusCode != 200 || string(c.Body) != `{}` {
		t.Errorf("Clone() = %+v, want same status and body", c)
	}
}
