package evolution

import (
	"encoding/json"
	"net/http"
	"time"
)

// Result is the uniform outcome of one gateway exchange. Success is false
// when the HTTP layer reports failure or when the body itself carries a
// top-level "error" field, which the gateway emits even on 2xx.
type Result struct {
	Success    bool
	StatusCode int
	Data       map[string]any
	Message    string
	Headers    http.Header
	Duration   time.Duration
}

// Get performs a dotted-path lookup into the response data, returning def
// when the path is absent or traverses a non-map value.
func (r *Result) Get(path string, def any) any {
	return lookupPath(r.Data, path, def)
}

// GetString is Get for string values.
func (r *Result) GetString(path, def string) string {
	if v, ok := lookupPath(r.Data, path, nil).(string); ok {
		return v
	}
	return def
}

func buildResult(statusCode int, headers http.Header, body []byte, duration time.Duration) *Result {
	result := &Result{
		StatusCode: statusCode,
		Headers:    headers,
		Duration:   duration,
	}

	result.Data = decodeBody(body)
	_, hasError := result.Data["error"]
	result.Success = statusCode >= 200 && statusCode < 300 && !hasError
	result.Message = extractMessage(result.Data)
	return result
}

// decodeBody is deliberately lenient: the gateway answers with objects,
// arrays and occasionally bare strings depending on the endpoint. Non-object
// bodies land under "response", undecodable ones under "raw".
func decodeBody(body []byte) map[string]any {
	if len(body) == 0 {
		return map[string]any{}
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return map[string]any{"raw": string(body)}
	}
	if object, ok := decoded.(map[string]any); ok {
		return object
	}
	return map[string]any{"response": decoded}
}

func extractMessage(data map[string]any) string {
	for _, path := range []string{"message", "error.message", "error", "response.message"} {
		if v, ok := lookupPath(data, path, nil).(string); ok && v != "" {
			return v
		}
	}
	return ""
}
