// Package fingerprint computes deterministic cache keys from a tool
// invocation's (toolId, parameters, context) triple.
package fingerprint

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// InlineThresholdBytes is the maximum length of the literal "k=v&k=v..."
// segment embedded in a fingerprint before it is collapsed to a hash.
// Tunable; must stay deterministic regardless of its value.
const InlineThresholdBytes = 200

// Context carries the optional fields that participate in a fingerprint
// beyond the tool id and parameters.
type Context struct {
	UserID                string
	Env                   string
	Version               string
	AdditionalContext     map[string]string
	ExcludedParams        map[string]struct{}
	IncludeParameterTypes bool
}

// Compute returns the deterministic fingerprint for toolID/params/ctx. Two
// calls whose params are equal as sets of key/value pairs, regardless of
// map iteration order, produce identical output.
func Compute(toolID string, params map[string]any, ctx *Context) string {
	var b strings.Builder
	b.WriteString("tool:")
	b.WriteString(toolID)

	if ctx != nil {
		b.WriteString(":user:")
		b.WriteString(ctx.UserID)
		b.WriteString(":env:")
		b.WriteString(ctx.Env)
		b.WriteString(":v:")
		b.WriteString(ctx.Version)

		keys := make([]string, 0, len(ctx.AdditionalContext))
		for k := range ctx.AdditionalContext {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(":")
			b.WriteString(k)
			b.WriteString(":")
			b.WriteString(ctx.AdditionalContext[k])
		}
	}

	joined := joinParams(params, ctx)
	if len(joined) > InlineThresholdBytes {
		sum := sha256.Sum256([]byte(joined))
		b.WriteString(":params:")
		b.WriteString(base64.StdEncoding.EncodeToString(sum[:]))
	} else {
		b.WriteString(":params:")
		b.WriteString(joined)
	}
	return b.String()
}

func joinParams(params map[string]any, ctx *Context) string {
	var excluded map[string]struct{}
	var includeTypes bool
	if ctx != nil {
		excluded = ctx.ExcludedParams
		includeTypes = ctx.IncludeParameterTypes
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if _, skip := excluded[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+serializeValue(params[k], includeTypes))
	}
	return strings.Join(parts, "&")
}

func serializeValue(v any, includeTypes bool) string {
	if v == nil {
		return "null"
	}
	prefix := ""
	if includeTypes {
		prefix = typeTag(v) + ":"
	}
	switch val := v.(type) {
	case string:
		return prefix + val
	default:
		data, err := canonicalJSON(val)
		if err != nil {
			return prefix + fmt.Sprintf("%v", val)
		}
		return prefix + string(data)
	}
}

func typeTag(v any) string {
	switch v.(type) {
	case string:
		return "String"
	case bool:
		return "Boolean"
	case int, int32, int64:
		return "Int32"
	case float32, float64:
		return "Float64"
	case []any:
		return "Array"
	case map[string]any:
		return "Object"
	default:
		return "Object"
	}
}

// canonicalJSON marshals v with map keys sorted (the default behaviour of
// encoding/json for map[string]any) so output is stable across calls.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
