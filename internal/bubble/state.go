package bubble

import (
	"fmt"

	"github.com/bubblekit/backend/internal/model"
)

// State is the data of one bubble.
type State struct {
	ID        string
	Role      string
	Type      string
	Content   string
	Config    map[string]any
	CreatedAt any
	Done      bool
}

// NewState returns an empty, unfinished state.
func NewState(id, role, bubbleType string) *State {
	return &State{
		ID:     id,
		Role:   role,
		Type:   bubbleType,
		Config: map[string]any{},
	}
}

// Apply merges patch into the state and returns the patch that was applied,
// ready to be sent in a config event. The returned patch carries the incoming
// colors, not the merged ones. An empty result means nothing was applied.
func (s *State) Apply(patch map[string]any) map[string]any {
	if len(patch) == 0 {
		return nil
	}
	rest := make(map[string]any, len(patch))
	for k, v := range patch {
		rest[k] = v
	}

	applied := map[string]any{}

	if role, ok := rest["role"]; ok {
		delete(rest, "role")
		if role != nil {
			s.Role = toString(role)
			applied["role"] = s.Role
		}
	}
	if bubbleType, ok := rest["type"]; ok {
		delete(rest, "type")
		if bubbleType != nil {
			s.Type = toString(bubbleType)
			applied["type"] = s.Type
		}
	}

	if len(rest) == 0 {
		return applied
	}
	if s.Config == nil {
		s.Config = map[string]any{}
	}

	for k, v := range rest {
		applied[k] = model.CloneValue(v)
	}

	incoming, incomingOK := rest["colors"].(map[string]any)
	existing, existingOK := s.Config["colors"].(map[string]any)
	if incomingOK && existingOK {
		rest["colors"] = MergeColors(existing, incoming)
	}
	for k, v := range rest {
		s.Config[k] = model.CloneValue(v)
	}

	return applied
}

// MergeColors merges incoming color groups into existing ones. The bubble and
// header groups are merged key by key; any other key is replaced.
func MergeColors(existing, incoming map[string]any) map[string]any {
	merged := model.CloneMap(existing)
	if merged == nil {
		merged = map[string]any{}
	}
	for key, value := range incoming {
		if key != "bubble" && key != "header" {
			merged[key] = value
			continue
		}
		group, ok := value.(map[string]any)
		if !ok {
			merged[key] = value
			continue
		}
		current, ok := merged[key].(map[string]any)
		if !ok {
			merged[key] = model.CloneMap(group)
			continue
		}
		for k, v := range group {
			current[k] = v
		}
	}
	return merged
}

// ToJSONBubble returns the wire record of the state.
func (s *State) ToJSONBubble() model.JSONBubble {
	cfg := model.CloneMap(s.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	return model.JSONBubble{
		ID:        s.ID,
		Role:      s.Role,
		Content:   s.Content,
		Type:      s.Type,
		Config:    cfg,
		CreatedAt: s.CreatedAt,
	}
}

// FromJSONBubble builds a state from a wire record.
func FromJSONBubble(rec model.JSONBubble, done bool) *State {
	cfg := model.CloneMap(rec.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	return &State{
		ID:        rec.ID,
		Role:      rec.Role,
		Type:      rec.Type,
		Content:   rec.Content,
		Config:    cfg,
		CreatedAt: rec.CreatedAt,
		Done:      done,
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
