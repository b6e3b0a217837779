package render

import (
	"fmt"
	"regexp"
	"strconv"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Substitute replaces every {{name}} in body with the string form of
// vars[name]. Unknown names and nil values render as "". Replacement is a
// single pass, so values containing placeholders are not expanded again.
func Substitute(body string, vars map[string]any) string {
	if body == "" {
		return ""
	}
	return placeholder.ReplaceAllStringFunc(body, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok || v == nil {
			return ""
		}
		return stringOf(v)
	})
}

// stringOf formats floats in plain decimal so whole numbers decoded as
// float64 print as 12345678, not 1.2345678e+07.
func stringOf(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
