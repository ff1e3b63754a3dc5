package agent

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// State is the conversation state threaded through one orchestration run.
//
// Keys keep their insertion order. Values must be JSON-serializable to
// survive Fork; the runner itself never interprets them. A State is owned by
// a single run and is not safe for concurrent use.
type State struct {
	keys   []string
	values map[string]any
}

// NewState creates a state seeded with the given values. Keys from a map
// have no defined order, so they are inserted sorted.
func NewState(initial map[string]any) *State {
	s := &State{values: make(map[string]any, len(initial))}
	for _, key := range slices.Sorted(maps.Keys(initial)) {
		s.Set(key, initial[key])
	}
	return s
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, appending the key if it is new.
func (s *State) Set(key string, value any) *State {
	if s.values == nil {
		s.values = make(map[string]any)
	}
	if _, exists := s.values[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
	return s
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s.values[key]
	return ok
}

// Delete removes key.
func (s *State) Delete(key string) {
	if !s.Has(key) {
		return
	}
	delete(s.values, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (s *State) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Len returns the number of keys.
func (s *State) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Snapshot returns a shallow copy of the stored values.
func (s *State) Snapshot() map[string]any {
	out := make(map[string]any, s.Len())
	if s == nil {
		return out
	}
	for _, k := range s.keys {
		out[k] = s.values[k]
	}
	return out
}

// Fork returns an independent state holding deep copies of the named keys,
// in the receiver's key order. Keys the receiver does not have are skipped.
// The copy goes through a JSON round trip, so structured values come back as
// maps, slices, strings, float64s, bools or nil.
func (s *State) Fork(keys ...string) (*State, error) {
	forked := &State{values: make(map[string]any, len(keys))}
	if s == nil {
		return forked, nil
	}
	for _, key := range s.keys {
		if !slices.Contains(keys, key) {
			continue
		}
		v := s.values[key]
		copied, err := deepCopy(v)
		if err != nil {
			return nil, fmt.Errorf("fork key %q: %w", key, err)
		}
		forked.Set(key, copied)
	}
	return forked, nil
}

// MergeFrom overwrites the named keys with the values held by other. Keys
// other does not have are left untouched in the receiver.
func (s *State) MergeFrom(other *State, keys ...string) *State {
	for _, key := range keys {
		if v, ok := other.Get(key); ok {
			s.Set(key, v)
		}
	}
	return s
}

// MarshalJSON encodes the state as a JSON object.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalJSON replaces the state's contents with a decoded JSON object.
func (s *State) UnmarshalJSON(data []byte) error {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = *NewState(values)
	return nil
}

// GetAs decodes the value under key into T. Values that are already a T are
// returned directly; anything else is converted through JSON.
func GetAs[T any](s *State, key string) (T, bool, error) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false, nil
	}
	if typed, ok := v.(T); ok {
		return typed, true, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return zero, true, fmt.Errorf("%w: %v", ErrStateNotSerializable, err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, true, fmt.Errorf("decode state key %q: %w", key, err)
	}
	return out, true, nil
}

func deepCopy(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateNotSerializable, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateNotSerializable, err)
	}
	return out, nil
}
