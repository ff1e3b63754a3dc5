package agent

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestState_SetGetOrder(t *testing.T) {
	s := NewState(nil)
	s.Set("b", 1).Set("a", 2).Set("b", 3)

	if got := s.Keys(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("Keys() = %v, want [b a]", got)
	}
	if v, _ := s.Get("b"); v != 3 {
		t.Errorf("Get(b) = %v, want 3", v)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}

	s.Delete("b")
	if s.Has("b") {
		t.Error("b should be deleted")
	}
	if got := s.Keys(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Keys() after delete = %v", got)
	}
}

func TestNewState_SortsSeedKeys(t *testing.T) {
	s := NewState(map[string]any{"c": 1, "a": 2, "b": 3})
	if got := s.Keys(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Keys() = %v", got)
	}
}

func TestState_ForkOnlyNamedKeys(t *testing.T) {
	parent := NewState(map[string]any{"a": 1, "b": "two", "c": true})

	child, err := parent.Fork("a", "b", "missing")
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}
	if child.Has("c") {
		t.Error("fork must not contain unnamed keys")
	}
	if child.Has("missing") {
		t.Error("fork must skip keys the parent lacks")
	}
	if v, _ := child.Get("b"); v != "two" {
		t.Errorf("child b = %v", v)
	}
}

func TestState_ForkKeepsParentOrder(t *testing.T) {
	parent := NewState(nil).Set("z", 1).Set("a", 2).Set("m", 3)

	child, err := parent.Fork("m", "z", "a")
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}
	if got, want := child.Keys(), []string{"z", "a", "m"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestState_ForkEmptyKeys(t *testing.T) {
	parent := NewState(map[string]any{"a": 1})
	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}
	if child.Len() != 0 {
		t.Errorf("fork with no keys should be empty, got %v", child.Keys())
	}
}

func TestState_ForkDeepCopies(t *testing.T) {
	parent := NewState(nil)
	parent.Set("a", map[string]any{"items": []any{"x"}})

	child, err := parent.Fork("a")
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}

	childA, _ := child.Get("a")
	childA.(map[string]any)["items"] = append(childA.(map[string]any)["items"].([]any), "y")
	childA.(map[string]any)["added"] = true

	parentA, _ := parent.Get("a")
	pm := parentA.(map[string]any)
	if len(pm["items"].([]any)) != 1 {
		t.Error("mutating the fork changed the parent's slice")
	}
	if _, ok := pm["added"]; ok {
		t.Error("mutating the fork changed the parent's map")
	}
}

func TestState_ForkUnserializable(t *testing.T) {
	parent := NewState(nil)
	parent.Set("fn", func() {})

	_, err := parent.Fork("fn")
	if !errors.Is(err, ErrStateNotSerializable) {
		t.Fatalf("Fork() error = %v, want ErrStateNotSerializable", err)
	}
}

func TestState_MergeFromNamedKeysOnly(t *testing.T) {
	parent := NewState(map[string]any{"a": 1.0, "b": 2.0, "c": 3.0})
	child, err := parent.Fork("a", "b")
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}
	child.Set("a", 10.0).Set("b", 20.0)

	parent.MergeFrom(child, "a", "c")

	if v, _ := parent.Get("a"); v != 10.0 {
		t.Errorf("a = %v, want 10", v)
	}
	if v, _ := parent.Get("b"); v != 2.0 {
		t.Errorf("b = %v, want unchanged 2", v)
	}
	if v, _ := parent.Get("c"); v != 3.0 {
		t.Errorf("c = %v, want unchanged 3 (child lacks c)", v)
	}
}

func TestState_MergeFromNil(t *testing.T) {
	parent := NewState(map[string]any{"a": 1})
	parent.MergeFrom(nil, "a")
	if v, _ := parent.Get("a"); v != 1 {
		t.Errorf("a = %v, want 1", v)
	}
}

func TestState_JSONRoundTrip(t *testing.T) {
	s := NewState(map[string]any{"notes": []any{"x"}, "count": 2.0})

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded State
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(decoded.Snapshot(), s.Snapshot()) {
		t.Errorf("decoded = %v, want %v", decoded.Snapshot(), s.Snapshot())
	}
}

func TestGetAs(t *testing.T) {
	type note struct {
		Title string `json:"title"`
	}

	s := NewState(nil)
	s.Set("direct", note{Title: "a"})
	s.Set("generic", map[string]any{"title": "b"})

	got, ok, err := GetAs[note](s, "direct")
	if err != nil || !ok || got.Title != "a" {
		t.Errorf("GetAs(direct) = %+v, %v, %v", got, ok, err)
	}

	got, ok, err = GetAs[note](s, "generic")
	if err != nil || !ok || got.Title != "b" {
		t.Errorf("GetAs(generic) = %+v, %v, %v", got, ok, err)
	}

	_, ok, err = GetAs[note](s, "missing")
	if ok || err != nil {
		t.Errorf("GetAs(missing) ok=%v err=%v", ok, err)
	}
}
