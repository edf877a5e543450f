// Package bubble holds the bubble state model and the config patch algebra.
package bubble

import (
	"github.com/pkg/errors"

	"github.com/bubblekit/backend/internal/model"
)

// ColorAuto is the color value that leaves a color slot unchanged.
const ColorAuto = "auto"

// Opt is a tri-state config value. The zero Opt leaves the field unchanged,
// Set assigns a value and Clear assigns an explicit null.
type Opt struct {
	set   bool
	value *string
}

// Set returns an Opt assigning s.
func Set(s string) Opt {
	return Opt{set: true, value: &s}
}

// Clear returns an Opt assigning null.
func Clear() Opt {
	return Opt{set: true}
}

// IsSet reports whether the Opt carries a value, null included.
func (o Opt) IsSet() bool {
	return o.set
}

// Value returns the assigned value as a JSON-like value (nil for Clear).
func (o Opt) Value() any {
	if o.value == nil {
		return nil
	}
	return *o.value
}

func (o Opt) isAutoColor() bool {
	return !o.set || (o.value != nil && *o.value == ColorAuto)
}

// Options are the named config fields accepted when creating or configuring a bubble.
type Options struct {
	ID   string
	Role Opt
	Type Opt

	Name Opt
	Icon Opt

	BubbleBg     Opt
	BubbleText   Opt
	BubbleBorder Opt

	HeaderBg       Opt
	HeaderText     Opt
	HeaderBorder   Opt
	HeaderIconBg   Opt
	HeaderIconText Opt

	Collapsible          *bool
	CollapsibleByDefault *bool

	Extra map[string]any
}

// Bool returns a pointer to b, for the collapsible flags.
func Bool(b bool) *bool {
	return &b
}

var reservedExtraKeys = map[string]string{
	"id":     "cannot update id",
	"config": "does not accept config, pass fields directly",
	"colors": "does not accept colors, use the color options",
}

// ValidateExtra rejects extra fields that would override structural keys.
func ValidateExtra(extra map[string]any, source string) error {
	for _, key := range []string{"id", "config", "colors"} {
		if _, ok := extra[key]; ok {
			return errors.Wrapf(model.ErrReservedConfigKey, "%s %s", source, reservedExtraKeys[key])
		}
	}
	return nil
}

// BuildPatch returns the sparse config patch for the supplied options.
// Role and Type are not part of the patch; callers add them where needed.
func BuildPatch(opts Options) map[string]any {
	patch := map[string]any{}

	if opts.Name.IsSet() {
		patch["name"] = opts.Name.Value()
	}
	if opts.Icon.IsSet() {
		patch["icon"] = opts.Icon.Value()
	}

	colors := map[string]any{}
	bubbleColors := colorGroup(map[string]Opt{
		"bg":     opts.BubbleBg,
		"text":   opts.BubbleText,
		"border": opts.BubbleBorder,
	})
	if len(bubbleColors) > 0 {
		colors["bubble"] = bubbleColors
	}
	headerColors := colorGroup(map[string]Opt{
		"bg":       opts.HeaderBg,
		"text":     opts.HeaderText,
		"border":   opts.HeaderBorder,
		"iconBg":   opts.HeaderIconBg,
		"iconText": opts.HeaderIconText,
	})
	if len(headerColors) > 0 {
		colors["header"] = headerColors
	}
	if len(colors) > 0 {
		patch["colors"] = colors
	}

	if opts.Collapsible != nil {
		patch["collapsible"] = *opts.Collapsible
		if *opts.Collapsible && opts.CollapsibleByDefault == nil {
			patch["collapsible_by_default"] = true
		}
	}
	if opts.CollapsibleByDefault != nil {
		patch["collapsible_by_default"] = *opts.CollapsibleByDefault
	}

	for k, v := range opts.Extra {
		patch[k] = v
	}

	return patch
}

func colorGroup(slots map[string]Opt) map[string]any {
	group := map[string]any{}
	for key, opt := range slots {
		if opt.isAutoColor() {
			continue
		}
		group[key] = opt.Value()
	}
	return group
}
