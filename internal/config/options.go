package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Options is a loosely typed option bag decoded from JSON.
//
// Getters are forgiving: wrong-typed or missing values return the provided
// default instead of failing, because option maps come from user-edited
// config files and readers must stay usable with partial input.
type Options map[string]any

func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}

func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

func (o Options) Int(key string, def int) int {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		// encoding/json default number type
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Rune returns the first rune of a string option ("," -> ',').
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	for _, r := range s {
		return r
	}
	return def
}

func (o Options) StringMap(key string) map[string]string {
	v, ok := o[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case map[string]string:
		return t
	case map[string]any:
		out := make(map[string]string, len(t))
		for k, vv := range t {
			out[k] = fmt.Sprint(vv)
		}
		return out
	default:
		return nil
	}
}
