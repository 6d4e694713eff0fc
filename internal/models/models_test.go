package models

import (
	"encoding/json"
	"testing"
)

func TestOpPathWireFormat(t *testing.T) {
	op := Operation{P: PathTo(FieldContent), SI: "x", RangeOffset: 3}
	data, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := string(raw["p"]); got != `["content",0]` {
		t.Fatalf(`expected path ["content",0], got %s`, got)
	}

	var back Operation
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.P.Field != FieldContent || back.P.Index == nil || *back.P.Index != 0 {
		t.Fatalf("unexpected path: %#v", back.P)
	}
}

func TestOpPathParentForm(t *testing.T) {
	var p OpPath
	if err := json.Unmarshal([]byte(`["content"]`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Field != FieldContent || p.Index != nil {
		t.Fatalf("expected parent path, got %#v", p)
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["content"]` {
		t.Fatalf("expected single-element path, got %s", data)
	}

	if err := json.Unmarshal([]byte(`[]`), &p); err == nil {
		t.Fatalf("empty path must be rejected")
	}
}

func TestIsReplace(t *testing.T) {
	v := "python"
	prev := ""
	if !(Operation{P: PathTo(FieldLang), LI: &v, LD: &prev}).IsReplace() {
		t.Fatalf("li/ld op must be a replace")
	}
	if (Operation{P: PathTo(FieldContent), SI: "x"}).IsReplace() {
		t.Fatalf("content op must not be a replace")
	}
}

func TestCursorRangeIsCaret(t *testing.T) {
	if !(CursorRange{StartLine: 2, StartCol: 5, EndLine: 2, EndCol: 5}).IsCaret() {
		t.Fatalf("zero-width range must be a caret")
	}
	if (CursorRange{StartLine: 2, StartCol: 5, EndLine: 2, EndCol: 9}).IsCaret() {
		t.Fatalf("selection must not be a caret")
	}
}
