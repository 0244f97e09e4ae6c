package evolution

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientFor(t *testing.T, serverURL string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Connections["default"] = ConnectionConfig{ServerURL: serverURL, APIKey: "test-key"}
	cfg.RateLimit.Enabled = false
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg, nil)
}

func jsonHandler(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func TestExecuteSuccess(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(r.Context())
		jsonHandler(http.StatusOK, map[string]any{"key": map[string]any{"id": "m1"}})(w, r)
	}))
	defer server.Close()

	client := clientFor(t, server.URL)
	result, err := client.Post(context.Background(), "/message/sendText/{instance}", map[string]any{"number": "551199", "text": "hi"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInstanceNotFound))
	assert.Nil(t, result)

	result, err = client.Instance("tenant1").Post(context.Background(), "/message/sendText/{instance}", map[string]any{"number": "551199", "text": "hi"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "m1", result.GetString("key.id", ""))
	assert.Greater(t, result.Duration, time.Duration(0))

	require.NotNil(t, captured)
	assert.Equal(t, "/message/sendText/tenant1", captured.URL.Path)
	assert.Equal(t, "test-key", captured.Header.Get("apikey"))
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))
}

func TestExecuteGetSendsQueryParameters(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(r.Context())
		jsonHandler(http.StatusOK, map[string]any{"ok": true})(w, r)
	}))
	defer server.Close()

	client := clientFor(t, server.URL)
	_, err := client.Get(context.Background(), "/chat/findChats", map[string]any{"page": 2, "archived": true})
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "2", captured.URL.Query().Get("page"))
	assert.Equal(t, "true", captured.URL.Query().Get("archived"))
	assert.Equal(t, "test-key", captured.Header.Get("apikey"))
}

func TestOneShotHeadersClearAfterCall(t *testing.T) {
	var headers []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Get("X-Trace"))
		jsonHandler(http.StatusOK, map[string]any{})(w, r)
	}))
	defer server.Close()

	client := clientFor(t, server.URL)
	_, err := client.WithHeaders(map[string]string{"X-Trace": "abc"}).Get(context.Background(), "/instance/fetchInstances", nil)
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "/instance/fetchInstances", nil)
	require.NoError(t, err)

	require.Len(t, headers, 2)
	assert.Equal(t, "abc", headers[0])
	assert.Empty(t, headers[1])
}

func TestErrorBodyOnOKStatusFailsTheResult(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusOK, map[string]any{
		"error": map[string]any{"message": "number not on whatsapp"},
	}))
	defer server.Close()

	client := clientFor(t, server.URL)
	result, err := client.Post(context.Background(), "/message/sendText", nil)
	require.Error(t, err)
	require.True(t, IsKind(err, KindAPI))
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "number not on whatsapp", result.Message)

	// Non-throwing mode hands the same failed result back without an error.
	result, err = client.WithoutThrowing().Post(context.Background(), "/message/sendText", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestStatusTranslationWhenThrowing(t *testing.T) {
	cases := []struct {
		name   string
		status int
		kind   ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, KindAuthentication},
		{"not found", http.StatusNotFound, KindInstanceNotFound},
		{"too many requests", http.StatusTooManyRequests, KindRateLimitExceeded},
		{"server error", http.StatusInternalServerError, KindAPI},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(jsonHandler(tc.status, map[string]any{"message": "nope"}))
			defer server.Close()

			client := clientFor(t, server.URL)
			result, err := client.Get(context.Background(), "/instance/fetchInstances", nil)
			require.Error(t, err)
			assert.True(t, IsKind(err, tc.kind))
			require.NotNil(t, result)
			assert.Equal(t, tc.status, result.StatusCode)
			assert.Equal(t, tc.status, AsError(err).StatusCode)

			// The same response is inspectable instead in non-throwing mode.
			result, err = client.WithoutThrowing().Get(context.Background(), "/instance/fetchInstances", nil)
			require.NoError(t, err)
			assert.False(t, result.Success)
			client.Throwing()
		})
	}
}

func TestRetryAfterHeaderDrivesRateLimitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		jsonHandler(http.StatusTooManyRequests, map[string]any{"message": "slow down"})(w, r)
	}))
	defer server.Close()

	client := clientFor(t, server.URL)
	_, err := client.Get(context.Background(), "/instance/fetchInstances", nil)
	require.Error(t, err)
	require.True(t, IsKind(err, KindRateLimitExceeded))
	assert.Equal(t, 17, AsError(err).RetryAfter)
}

func TestRetryOnRetryableStatusThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			jsonHandler(http.StatusServiceUnavailable, map[string]any{"message": "warming up"})(w, r)
			return
		}
		jsonHandler(http.StatusOK, map[string]any{"ok": true})(w, r)
	}))
	defer server.Close()

	client := clientFor(t, server.URL, func(cfg *Config) {
		cc := cfg.Connections["default"]
		cc.Retry = RetryConfig{Enabled: true, MaxAttempts: 3, BaseDelay: time.Millisecond, RetryableStatusCodes: []int{503}}
		cfg.Connections["default"] = cc
	})

	result, err := client.Get(context.Background(), "/instance/fetchInstances", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNonRetryableStatusIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonHandler(http.StatusBadRequest, map[string]any{"message": "bad payload"})(w, r)
	}))
	defer server.Close()

	client := clientFor(t, server.URL, func(cfg *Config) {
		cc := cfg.Connections["default"]
		cc.Retry = RetryConfig{Enabled: true, MaxAttempts: 3, BaseDelay: time.Millisecond, RetryableStatusCodes: []int{503}}
		cfg.Connections["default"] = cc
	})

	_, err := client.Get(context.Background(), "/instance/fetchInstances", nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAPI))
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnreachableGatewayIsConnectionErrorEvenWithoutThrowing(t *testing.T) {
	// A closed port: nothing answers.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	client := clientFor(t, serverURL)
	result, err := client.WithoutThrowing().Get(context.Background(), "/instance/fetchInstances", nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConnection))
	assert.Nil(t, result)
}

func TestNamedConnectionSelection(t *testing.T) {
	var hits atomic.Int32
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		jsonHandler(http.StatusOK, map[string]any{})(w, r)
	}))
	defer secondary.Close()

	client := clientFor(t, "http://primary.invalid", func(cfg *Config) {
		cfg.Connections["secondary"] = ConnectionConfig{ServerURL: secondary.URL, APIKey: "k2"}
	})

	_, err := client.Connection("secondary").Get(context.Background(), "/instance/fetchInstances", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLocalRateLimitRejection(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		jsonHandler(http.StatusOK, map[string]any{})(w, r)
	}))
	defer server.Close()

	client := clientFor(t, server.URL, func(cfg *Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.OnLimitReached = PolicySkip
		cfg.RateLimit.Limits = map[string]CategoryLimit{
			CategoryDefault:  {MaxAttempts: 60, DecaySeconds: 60},
			CategoryMessages: {MaxAttempts: 1, DecaySeconds: 60},
			CategoryMedia:    {MaxAttempts: 60, DecaySeconds: 60},
		}
	})

	_, err := client.Post(context.Background(), "/message/sendText", nil)
	require.NoError(t, err)

	// Throwing mode surfaces the local rejection as a typed error before any
	// request leaves the process.
	result, err := client.Post(context.Background(), "/message/sendText", nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimitExceeded))
	assert.Nil(t, result)
	assert.Equal(t, int32(1), hits.Load())

	// Non-throwing mode shapes it as a synthetic 429 result.
	result, err = client.WithoutThrowing().Post(context.Background(), "/message/sendText", nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, http.StatusTooManyRequests, result.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCategoryForEndpoint(t *testing.T) {
	assert.Equal(t, CategoryMedia, categoryForEndpoint("/message/sendMedia/{instance}"))
	assert.Equal(t, CategoryMedia, categoryForEndpoint("/files/upload"))
	assert.Equal(t, CategoryMessages, categoryForEndpoint("/message/sendText/{instance}"))
	assert.Equal(t, CategoryMessages, categoryForEndpoint("/chat/markMessageAsRead"))
	assert.Equal(t, CategoryDefault, categoryForEndpoint("/instance/fetchInstances"))
}

func TestUploadMultipart(t *testing.T) {
	var captured struct {
		contentType string
		field       string
		fileName    string
		fileBody    string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.contentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		captured.field = r.FormValue("number")
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		captured.fileName = header.Filename
		body, err := io.ReadAll(file)
		require.NoError(t, err)
		captured.fileBody = string(body)
		jsonHandler(http.StatusOK, map[string]any{})(w, r)
	}))
	defer server.Close()

	client := clientFor(t, server.URL)
	result, err := client.Upload(context.Background(), "/message/sendMedia",
		map[string]string{"number": "551199"},
		map[string]UploadFile{"file": {FileName: "pic.jpg", Content: strings.NewReader("jpegbytes")}},
	)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, captured.contentType, "multipart/form-data")
	assert.Equal(t, "551199", captured.field)
	assert.Equal(t, "pic.jpg", captured.fileName)
	assert.Equal(t, "jpegbytes", captured.fileBody)
}

func TestTLSVerificationStaysOnForZeroValueProfiles(t *testing.T) {
	client := clientFor(t, "https://gw.example", func(cfg *Config) {
		cfg.Connections["pinned"] = ConnectionConfig{
			ServerURL: "https://gw.internal",
			APIKey:    "k2",
			HTTP:      HTTPConfig{InsecureSkipVerify: true},
		}
	})
	require.NoError(t, client.Registry().AddRuntime("runtime", ConnectionConfig{
		ServerURL: "https://gw.runtime",
		APIKey:    "k3",
	}))

	// A profile that never mentions TLS must verify certificates.
	for _, name := range []string{"default", "runtime"} {
		conn, err := client.Registry().Resolve(name)
		require.NoError(t, err)
		transport := client.httpClientFor(conn).Transport.(*http.Transport)
		assert.False(t, transport.TLSClientConfig.InsecureSkipVerify, name)
	}

	// Skipping verification stays an explicit opt-in.
	conn, err := client.Registry().Resolve("pinned")
	require.NoError(t, err)
	transport := client.httpClientFor(conn).Transport.(*http.Transport)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestOneShotContentTypeOverridesDefault(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(r.Context())
		jsonHandler(http.StatusOK, map[string]any{})(w, r)
	}))
	defer server.Close()

	client := clientFor(t, server.URL)
	_, err := client.WithHeaders(map[string]string{"Content-Type": "application/vnd.api+json"}).
		Post(context.Background(), "/message/sendText", map[string]any{"text": "hi"})
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "application/vnd.api+json", captured.Header.Get("Content-Type"))
	assert.Equal(t, "test-key", captured.Header.Get("apikey"))
	assert.Equal(t, "application/json", captured.Header.Get("Accept"))
}

func TestRedactHidesSensitiveFieldsAtAnyDepth(t *testing.T) {
	client := clientFor(t, "http://h.invalid", func(cfg *Config) {
		cfg.Log = LogConfig{Enabled: true, RedactSensitive: true, SensitiveFields: []string{"apikey", "token"}}
	})

	redacted := client.redact(map[string]any{
		"apikey": "secret",
		"nested": map[string]any{"Token": "secret", "keep": "x"},
		"list":   []any{map[string]any{"apikey": "secret"}},
	})

	assert.Equal(t, "[REDACTED]", redacted["apikey"])
	nested := redacted["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["Token"])
	assert.Equal(t, "x", nested["keep"])
	item := redacted["list"].([]any)[0].(map[string]any)
	assert.Equal(t, "[REDACTED]", item["apikey"])
}

func TestBuildResultBodyShapes(t *testing.T) {
	// Non-object JSON is wrapped; undecodable bodies are carried raw.
	r := buildResult(200, http.Header{}, []byte(`[1,2]`), time.Millisecond)
	assert.True(t, r.Success)
	assert.Contains(t, r.Data, "response")

	r = buildResult(200, http.Header{}, []byte(`not json`), time.Millisecond)
	assert.True(t, r.Success)
	assert.Equal(t, "not json", r.Data["raw"])

	r = buildResult(200, http.Header{}, []byte(`{"error":"boom"}`), time.Millisecond)
	assert.False(t, r.Success)
	assert.Equal(t, "boom", r.Message)
}
