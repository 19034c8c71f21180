package patch

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// first returns the first existing, non-null field among aliases.
func first(obj gjson.Result, aliases ...string) gjson.Result {
	for _, a := range aliases {
		if r := obj.Get(gjson.Escape(a)); present(r) {
			return r
		}
	}
	return gjson.Result{}
}

func present(r gjson.Result) bool { return r.Exists() && r.Type != gjson.Null }

func str(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		return r.Raw
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	}
	return ""
}

// optStr is str with "" mapped to nil.
func optStr(r gjson.Result) *string {
	s := str(r)
	if s == "" {
		return nil
	}
	return &s
}

// num coerces numbers and numeric strings; NaN and infinities are rejected.
func num(r gjson.Result) (float64, bool) {
	var f float64
	switch r.Type {
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(r.Str), "%")), 64)
		if err != nil {
			return 0, false
		}
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func boolean(r gjson.Result) (bool, bool) {
	switch r.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(r.Str)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

// strList accepts an array of scalars (or objects carrying an id) or a
// comma-separated string.
func strList(r gjson.Result, idKeys ...string) []string {
	out := []string{}
	switch {
	case r.IsArray():
		for _, it := range r.Array() {
			s := str(it)
			if it.IsObject() && len(idKeys) > 0 {
				s = str(first(it, idKeys...))
			}
			if s != "" {
				out = append(out, s)
			}
		}
	case r.Type == gjson.String:
		for _, s := range strings.Split(r.Str, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func appendUnique(dst []string, seen map[string]bool, items ...string) []string {
	for _, s := range items {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		dst = append(dst, s)
	}
	return dst
}

// extractObject returns the first balanced top-level {...} span in s.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
