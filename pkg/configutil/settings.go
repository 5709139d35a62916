// Package configutil validates and decodes the free-form settings maps
// that select and tune providers.
package configutil

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Schema lists the keys a settings map may carry. Keys match ignoring
// case, underscores and hyphens.
type Schema struct {
	// Path prefixes every error, e.g. "providers.llm.settings".
	Path     string
	Required []string
	Optional []string
}

// SettingsError reports every missing and unknown key of one map.
type SettingsError struct {
	Path    string
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	msg := strings.Join(parts, "; ")
	if e.Path == "" {
		return msg
	}
	return e.Path + ": " + msg
}

// Validate checks input against the schema. A required string that is
// blank after env expansion counts as missing.
func (s Schema) Validate(input map[string]any) error {
	allowed := make(map[string]bool, len(s.Required)+len(s.Optional))
	for _, k := range s.Optional {
		allowed[normalizeKey(k)] = true
	}
	present := make(map[string]bool, len(input))
	serr := &SettingsError{Path: s.Path}
	for k, v := range input {
		nk := normalizeKey(k)
		if !blank(v) {
			present[nk] = true
		}
		if !allowed[nk] && !s.requires(nk) {
			serr.Unknown = append(serr.Unknown, k)
		}
	}
	for _, k := range s.Required {
		if !present[normalizeKey(k)] {
			serr.Missing = append(serr.Missing, k)
		}
	}
	if len(serr.Missing) == 0 && len(serr.Unknown) == 0 {
		return nil
	}
	sort.Strings(serr.Missing)
	sort.Strings(serr.Unknown)
	return serr
}

// Decode validates input, then decodes it into out, a pointer to a struct
// tagged with mapstructure. Strings such as "250ms" fill durations and
// comma separated strings fill string slices.
func (s Schema) Decode(input map[string]any, out any) error {
	if err := s.Validate(input); err != nil {
		return err
	}
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("%s: %w", s.Path, err)
	}
	return nil
}

func (s Schema) requires(nk string) bool {
	for _, k := range s.Required {
		if normalizeKey(k) == nk {
			return true
		}
	}
	return false
}

// Or dereferences v, or returns fallback when the key was not set.
func Or[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}

func blank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}

func normalizeKey(key string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(key))
}
