package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Map returns the settings keyed by their setting names.
func (s *Settings) Map() map[string]any {
	out := make(map[string]any)
	v := reflect.ValueOf(s).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if name := t.Field(i).Tag.Get("setting"); name != "" {
			out[name] = v.Field(i).Interface()
		}
	}
	return out
}

// Names returns every setting name, sorted.
func (s *Settings) Names() []string {
	m := s.Map()
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Set assigns one setting by name from its string form.
func (s *Settings) Set(name, value string) error {
	v := reflect.ValueOf(s).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("setting") != name {
			continue
		}
		if err := setField(v.Field(i), normalizeBool(v.Field(i).Kind(), value)); err != nil {
			return fmt.Errorf("setting %s=%q: %w", name, value, err)
		}
		return nil
	}
	return fmt.Errorf("unknown setting %q, valid settings are: %s", name, strings.Join(s.Names(), ", "))
}

// Apply parses name:value pairs as given to --setting.
func (s *Settings) Apply(pairs []string) error {
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("setting %q must be name:value", pair)
		}
		if err := s.Set(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	return nil
}

// normalizeBool accepts on/off and yes/no for boolean settings.
func normalizeBool(kind reflect.Kind, value string) string {
	if kind != reflect.Bool {
		return value
	}
	switch strings.ToLower(value) {
	case "on", "yes":
		return "true"
	case "off", "no":
		return "false"
	}
	return value
}
