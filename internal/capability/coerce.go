package capability

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CoerceArgs converts an untyped name→value map into the declared parameter
// list. Unknown argument names pass through untouched so handlers can accept
// optional extras; declared parameters are validated strictly:
//   - required but absent → ParamError naming the field
//   - absent with a default → the default is substituted
//   - type mismatch → best-effort conversion, ParamError on failure
func CoerceArgs(params []ParamSpec, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	for _, p := range params {
		raw, present := args[p.Name]
		if !present {
			if p.Default != nil {
				out[p.Name] = p.Default
				continue
			}
			if p.Required {
				return nil, &ParamError{Field: p.Name, Reason: "required but missing"}
			}
			continue
		}

		v, err := coerceValue(p.Name, p.Type, p.ItemType, raw)
		if err != nil {
			return nil, err
		}
		v, err = checkConstraints(p, v)
		if err != nil {
			return nil, err
		}
		out[p.Name] = v
	}
	return out, nil
}

// coerceValue converts raw to the declared type. JSON decoding hands us
// float64 for every number, so integer coercion has to accept whole floats.
func coerceValue(field, typ, itemType string, raw any) (any, error) {
	switch typ {
	case "", "any":
		return raw, nil

	case "string":
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		default:
			return nil, &ParamError{Field: field, Reason: fmt.Sprintf("cannot convert %T to string", raw)}
		}

	case "integer":
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, &ParamError{Field: field, Reason: fmt.Sprintf("number %v is not an integer", v)}
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, &ParamError{Field: field, Reason: fmt.Sprintf("cannot parse %q as integer", v)}
			}
			return n, nil
		default:
			return nil, &ParamError{Field: field, Reason: fmt.Sprintf("cannot convert %T to integer", raw)}
		}

	case "number":
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, &ParamError{Field: field, Reason: fmt.Sprintf("cannot parse %q as number", v)}
			}
			return f, nil
		default:
			return nil, &ParamError{Field: field, Reason: fmt.Sprintf("cannot convert %T to number", raw)}
		}

	case "boolean":
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, &ParamError{Field: field, Reason: fmt.Sprintf("cannot parse %q as boolean", v)}
			}
			return b, nil
		default:
			return nil, &ParamError{Field: field, Reason: fmt.Sprintf("cannot convert %T to boolean", raw)}
		}

	case "array":
		items, ok := raw.([]any)
		if !ok {
			return nil, &ParamError{Field: field, Reason: fmt.Sprintf("cannot convert %T to array", raw)}
		}
		if itemType == "" {
			return items, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := coerceValue(fmt.Sprintf("%s[%d]", field, i), itemType, "", item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case "object":
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, &ParamError{Field: field, Reason: fmt.Sprintf("cannot convert %T to object", raw)}
		}
		return m, nil

	default:
		return nil, &ParamError{Field: field, Reason: fmt.Sprintf("unknown declared type %q", typ)}
	}
}

// checkConstraints applies enum and min/max checks to an already-coerced
// value. An enum match is case-insensitive and canonicalizes the value to the
// declared spelling.
func checkConstraints(p ParamSpec, v any) (any, error) {
	if len(p.Enum) > 0 {
		s, ok := v.(string)
		if !ok {
			return nil, &ParamError{Field: p.Name, Reason: "enum constraint requires a string value"}
		}
		matched := ""
		for _, allowed := range p.Enum {
			if strings.EqualFold(s, allowed) {
				matched = allowed
				break
			}
		}
		if matched == "" {
			return nil, &ParamError{
				Field:  p.Name,
				Reason: fmt.Sprintf("%q is not one of [%s]", s, strings.Join(p.Enum, ", ")),
			}
		}
		v = matched
	}

	if p.Min != nil || p.Max != nil {
		var f float64
		switch n := v.(type) {
		case int64:
			f = float64(n)
		case float64:
			f = n
		default:
			return v, nil // range constraints only apply to numeric values
		}
		if p.Min != nil && f < *p.Min {
			return nil, &ParamError{Field: p.Name, Reason: fmt.Sprintf("%v is below minimum %v", f, *p.Min)}
		}
		if p.Max != nil && f > *p.Max {
			return nil, &ParamError{Field: p.Name, Reason: fmt.Sprintf("%v is above maximum %v", f, *p.Max)}
		}
	}
	return v, nil
}
