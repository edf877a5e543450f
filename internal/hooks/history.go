package hooks

import (
	"github.com/pkg/errors"

	"github.com/bubblekit/backend/internal/model"
	"github.com/bubblekit/backend/internal/session"
)

// NormalizeHistory converts history handler items into wire records.
func NormalizeHistory(items []any) ([]model.JSONBubble, error) {
	messages := make([]model.JSONBubble, 0, len(items))
	for i, item := range items {
		var (
			rec model.JSONBubble
			err error
		)
		switch v := item.(type) {
		case map[string]any:
			rec, err = model.JSONBubbleFromMap(v)
		case model.JSONBubble:
			rec = fillDefaults(v)
		case *model.JSONBubble:
			if v == nil {
				return nil, errors.Wrapf(model.ErrInvalidHistoryItem, "item %d is nil", i)
			}
			rec = fillDefaults(*v)
		case *session.Bubble:
			if v == nil {
				return nil, errors.Wrapf(model.ErrInvalidHistoryItem, "item %d is nil", i)
			}
			rec = v.ToJSONBubble()
		default:
			return nil, errors.Wrapf(model.ErrInvalidHistoryItem, "item %d has type %T", i, item)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "history item %d", i)
		}
		messages = append(messages, rec)
	}
	return messages, nil
}

func fillDefaults(rec model.JSONBubble) model.JSONBubble {
	if rec.ID == "" {
		rec.ID = model.NewID()
	}
	if rec.Role == "" {
		rec.Role = model.DefaultRole
	}
	if rec.Type == "" {
		rec.Type = model.DefaultType
	}
	if rec.Config == nil {
		rec.Config = map[string]any{}
	} else {
		rec.Config = model.CloneMap(rec.Config)
	}
	return rec
}
