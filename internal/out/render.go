package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/dmarceau/swapcli/internal/config"
	"github.com/dmarceau/swapcli/internal/model"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	if settings.OutputMode == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}

	return renderPlain(w, env.Data, env)
}

func renderPlain(w io.Writer, data any, env model.Envelope) error {
	if env.Error != nil {
		if _, err := fmt.Fprintf(w, "error code=%d type=%s message=%s\n", env.Error.Code, env.Error.Type, env.Error.Message); err != nil {
			return err
		}
	}
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			item := normalizeValue(v.Index(i).Interface())
			line, err := toLine(item)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
