package jsonx

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtractObjectWithLeadingProse(t *testing.T) {
	raw := "Sure! Here is the next cell:\n\n{\"markdown\": \"# Overview\"}\nLet me know."
	obj, err := ExtractObject(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var content string
	if err := json.Unmarshal(obj["markdown"], &content); err != nil {
		t.Fatalf("unmarshal markdown: %v", err)
	}
	if content != "# Overview" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestExtractObjectNoBraces(t *testing.T) {
	_, err := ExtractObject("I could not produce a cell this time.")
	if !errors.Is(err, ErrNoObject) {
		t.Fatalf("expected ErrNoObject, got %v", err)
	}
}

func TestExtractObjectNestedBracesInStrings(t *testing.T) {
	raw := `prefix {"code": "data = {\"a\": 1}\nprint(data)"} suffix`
	obj, err := ExtractObject(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var code string
	if err := json.Unmarshal(obj["code"], &code); err != nil {
		t.Fatalf("unmarshal code: %v", err)
	}
	if code != "data = {\"a\": 1}\nprint(data)" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestExtractObjectNestedObjects(t *testing.T) {
	raw := `{"slide": {"type": "title", "title": "Q3 Revenue"}}`
	obj, err := ExtractObject(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, ok := obj["slide"]; !ok {
		t.Fatalf("expected slide key")
	}
}

func TestFirstObjectSpanStopsAtBalance(t *testing.T) {
	span, err := FirstObjectSpan(`{"a": 1} {"b": 2}`)
	if err != nil {
		t.Fatalf("span: %v", err)
	}
	if span != `{"a": 1}` {
		t.Fatalf("expected first object only, got %q", span)
	}
}

func TestExtractObjectUnbalanced(t *testing.T) {
	_, err := ExtractObject(`{"a": {"b": 1}`)
	if !errors.Is(err, ErrNoObject) {
		t.Fatalf("expected ErrNoObject for unbalanced input, got %v", err)
	}
}
