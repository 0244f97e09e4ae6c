package evolution

import "strings"

// lookupPath walks a dotted path through nested map[string]any values,
// returning def when any segment is missing or sits inside a non-map.
func lookupPath(data map[string]any, path string, def any) any {
	if data == nil || path == "" {
		return def
	}

	var current any = data
	for _, segment := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return def
		}
		current, ok = object[segment]
		if !ok {
			return def
		}
	}
	if current == nil {
		return def
	}
	return current
}

func hasPath(data map[string]any, path string) bool {
	marker := struct{}{}
	return lookupPath(data, path, marker) != any(marker)
}

// firstString tries candidate paths in priority order and returns the first
// present, non-empty string value. The gateway ships the same logical field
// under slightly different shapes depending on the webhook mode.
func firstString(data map[string]any, paths ...string) string {
	for _, path := range paths {
		if v, ok := lookupPath(data, path, nil).(string); ok && v != "" {
			return v
		}
	}
	return ""
}
