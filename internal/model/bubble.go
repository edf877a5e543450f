package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// DefaultRole is the role given to bubbles that do not specify one.
	DefaultRole = "assistant"

	// DefaultType is the type given to bubbles that do not specify one.
	DefaultType = "text"

	// AnonymousUserID is used when a request carries no user id.
	AnonymousUserID = "anonymous"
)

// NewID returns a new 32 character hex identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NormalizeUserID trims the user id and falls back to AnonymousUserID when blank.
func NormalizeUserID(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AnonymousUserID
	}
	return userID
}

// JSONBubble is the wire record of a bubble used by history responses.
type JSONBubble struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config"`
	CreatedAt any            `json:"createdAt"`
}

// OpenAIMessage is the {role, content} projection of a bubble.
type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JSONBubbleFromMap normalizes a loose map into a JSONBubble, filling defaults
// for missing fields.
func JSONBubbleFromMap(item map[string]any) (JSONBubble, error) {
	rec := JSONBubble{
		ID:        stringOr(item["id"], ""),
		Role:      stringOr(item["role"], DefaultRole),
		Content:   stringOr(item["content"], ""),
		Type:      stringOr(item["type"], DefaultType),
		Config:    map[string]any{},
		CreatedAt: item["createdAt"],
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}

	switch cfg := item["config"].(type) {
	case nil:
	case map[string]any:
		rec.Config = CloneMap(cfg)
	default:
		return JSONBubble{}, errors.Wrapf(ErrInvalidConfig, "bubble %s: config must be an object, got %T", rec.ID, cfg)
	}

	return rec, nil
}

// ToOpenAI projects the record to an OpenAI chat message.
func (b JSONBubble) ToOpenAI() OpenAIMessage {
	role := b.Role
	if role == "" {
		role = DefaultRole
	}
	return OpenAIMessage{Role: role, Content: b.Content}
}

// JSONBubbleToOpenAI converts a loose JSON bubble map to an OpenAI chat message.
func JSONBubbleToOpenAI(item map[string]any) OpenAIMessage {
	return OpenAIMessage{
		Role:    stringOr(item["role"], DefaultRole),
		Content: stringOr(item["content"], ""),
	}
}

// CloneMap deep copies nested maps and slices of a JSON-like value.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep copies a JSON-like value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

func stringOr(v any, def string) string {
	switch t := v.(type) {
	case nil:
		return def
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
