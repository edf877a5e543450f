// Package conversation holds the per-user conversation list.
package conversation

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"

	"github.com/bubblekit/backend/internal/model"
)

// Entry is one item of a user's conversation list. Extra fields are passed
// through to the client next to id, title and updatedAt.
type Entry struct {
	ID        string
	Title     string
	UpdatedAt int64
	Extra     map[string]any
}

var reservedKeys = []string{"id", "title", "updatedAt"}

// CreateHistory builds a normalized entry. extra must not contain id, title or updatedAt.
func CreateHistory(id, title string, updatedAt int64, extra map[string]any) (Entry, error) {
	if id == "" {
		return Entry{}, errors.Wrap(model.ErrInvalidConversation, "id must be a non-empty string")
	}
	for _, key := range reservedKeys {
		if _, ok := extra[key]; ok {
			return Entry{}, errors.Wrapf(model.ErrInvalidConversation, "extra field %q is reserved", key)
		}
	}
	return Entry{ID: id, Title: title, UpdatedAt: updatedAt, Extra: model.CloneMap(extra)}, nil
}

// EntryFromMap validates a loose map into an Entry.
func EntryFromMap(item map[string]any) (Entry, error) {
	id, ok := item["id"].(string)
	if !ok || id == "" {
		return Entry{}, errors.Wrap(model.ErrInvalidConversation, "id must be a non-empty string")
	}
	title, ok := item["title"].(string)
	if !ok {
		return Entry{}, errors.Wrapf(model.ErrInvalidConversation, "conversation %s: title must be a string", id)
	}
	updatedAt, err := toEpochMillis(item["updatedAt"])
	if err != nil {
		return Entry{}, errors.Wrapf(err, "conversation %s", id)
	}

	var extra map[string]any
	for k, v := range item {
		if k == "id" || k == "title" || k == "updatedAt" {
			continue
		}
		if extra == nil {
			extra = map[string]any{}
		}
		extra[k] = model.CloneValue(v)
	}
	return Entry{ID: id, Title: title, UpdatedAt: updatedAt, Extra: extra}, nil
}

func toEpochMillis(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, errors.Wrap(model.ErrInvalidConversation, "updatedAt must be an integer")
		}
		if math.Abs(n) >= 1<<63 {
			return 0, errors.Wrapf(model.ErrInvalidConversation, "updatedAt %g is out of range", n)
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, errors.Wrap(model.ErrInvalidConversation, "updatedAt must be an integer")
		}
		return i, nil
	case nil:
		return 0, errors.Wrap(model.ErrInvalidConversation, "updatedAt is required")
	default:
		return 0, errors.Wrapf(model.ErrInvalidConversation, "updatedAt must be an integer, got %T", v)
	}
}

// Map returns the flattened form of the entry.
func (e Entry) Map() map[string]any {
	out := make(map[string]any, len(e.Extra)+3)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["id"] = e.ID
	out["title"] = e.Title
	out["updatedAt"] = e.UpdatedAt
	return out
}

// MarshalJSON flattens Extra into the entry object.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}

// UnmarshalJSON parses and validates a flattened entry object.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var item map[string]any
	if err := json.Unmarshal(data, &item); err != nil {
		return errors.Wrap(model.ErrInvalidConversation, err.Error())
	}
	entry, err := EntryFromMap(item)
	if err != nil {
		return err
	}
	*e = entry
	return nil
}
