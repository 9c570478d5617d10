package yandexgpt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"prediction-api/internal/domain"
	"prediction-api/internal/logging"
)

// ---------------------------------------------------------------------------
// completionURL helper
// ---------------------------------------------------------------------------

func TestCompletionURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://llm.api.cloud.yandex.net", "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"},
		{"https://llm.api.cloud.yandex.net/", "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"},
		{"http://localhost:8080", "http://localhost:8080/foundationModels/v1/completion"},
		{"", "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, completionURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilKeySource(t *testing.T) {
	_, err := NewClient(nil, "folder")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyFolder(t *testing.T) {
	_, err := NewClient(StaticKey("key"), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "folder id")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(StaticKey("key"), "b1gfolder")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, defaultTimeout, c.httpClient.Timeout)
	require.Equal(t, "gpt://b1gfolder/yandexgpt/latest", c.modelURI("yandexgpt"))
}

func TestNewClient_WithTimeout(t *testing.T) {
	c, err := NewClient(StaticKey("key"), "b1gfolder", WithTimeout(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, c.httpClient.Timeout)
}

// ---------------------------------------------------------------------------
// Client.Complete
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		StaticKey("test-key"),
		"b1gfolder",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestClient_Complete_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/foundationModels/v1/completion", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Api-Key test-key", r.Header.Get("Authorization"))
		require.Equal(t, "b1gfolder", r.Header.Get("x-folder-id"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got completionRequest
		require.NoError(t, json.Unmarshal(raw, &got))
		require.Equal(t, "gpt://b1gfolder/yandexgpt/latest", got.ModelURI)
		require.Equal(t, 0.5, got.CompletionOptions.Temperature)
		require.False(t, got.CompletionOptions.Stream)
		require.Equal(t, []domain.ChatMessage{
			{Role: "system", Text: "rules"},
			{Role: "user", Text: "hi"},
		}, got.Messages)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"result": {
				"alternatives": [
					{"message": {"role": "assistant", "text": "first"}, "status": "ALTERNATIVE_STATUS_FINAL"},
					{"message": {"role": "assistant", "text": "second"}, "status": "ALTERNATIVE_STATUS_FINAL"}
				],
				"usage": {"inputTextTokens": "10", "completionTokens": "2", "totalTokens": "12"},
				"modelVersion": "23.10.2024"
			}
		}`))
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logging.WithContext(context.Background(), zap.New(core))

	c := newTestClient(t, srv)
	out, err := c.Complete(ctx, "yandexgpt", 0.5, []domain.ChatMessage{
		{Role: "system", Text: "rules"},
		{Role: "user", Text: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "first", out)

	entries := logs.FilterMessage("completion received").All()
	require.Len(t, entries, 1)
	require.Equal(t, "23.10.2024", entries[0].ContextMap()["model_version"])
}

func TestClient_Complete_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		_, _ = w.Write([]byte(`{"error":{"message":"Unknown api key"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), "yandexgpt", 0.5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
	require.Contains(t, err.Error(), "401")

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestClient_Complete_429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		_, _ = w.Write([]byte(`{"error":"quota exceeded"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), "yandexgpt", 0.5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestClient_Complete_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), "yandexgpt", 0.5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Complete_NoAlternatives(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"result":{"alternatives":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), "yandexgpt", 0.5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no alternatives")
}

func TestClient_Complete_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"result":{"alternatives":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Complete(context.Background(), "yandexgpt", 0.5, nil)
	require.Error(t, err)
}

func TestClient_Complete_NetworkError(t *testing.T) {
	c, err := NewClient(StaticKey("test-key"), "b1gfolder", WithBaseURL("http://127.0.0.1:1"))
	require.NoError(t, err)
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Complete(context.Background(), "yandexgpt", 0.5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Complete_EmptyModel(t *testing.T) {
	c, err := NewClient(StaticKey("test-key"), "b1gfolder")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "", 0.5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_Complete_KeyError(t *testing.T) {
	c, err := NewClient(StaticKey(""), "b1gfolder")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "yandexgpt", 0.5, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "API key is empty")
}

// ---------------------------------------------------------------------------
// Key sources
// ---------------------------------------------------------------------------

type fakeGetter struct {
	val    string
	err    error
	name   string
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.name = name
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestStaticKey(t *testing.T) {
	key, err := StaticKey(" AQVN-key ").APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AQVN-key", key)

	_, err = StaticKey("").APIKey(context.Background())
	require.Error(t, err)
}

func TestNewParamStoreKey_Validates(t *testing.T) {
	_, err := NewParamStoreKey(nil, "/prediction-api")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = NewParamStoreKey(&fakeGetter{}, " / ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestParamStoreKey_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"AQVN-from-ssm"}`}
	g.onCall = func() { calls++ }
	src, err := NewParamStoreKey(g, "/prediction-api/")
	require.NoError(t, err)

	key, err := src.APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AQVN-from-ssm", key)
	require.Equal(t, "/prediction-api/yandex-api-key", g.name)

	_, _ = src.APIKey(context.Background())
	_, _ = src.APIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

func TestParamStoreKey_RetriesAfterFailure(t *testing.T) {
	calls := 0
	g := &fakeGetter{err: errors.New("throttled")}
	g.onCall = func() {
		calls++
		if calls > 1 {
			g.val, g.err = `{"token":"AQVN-from-ssm"}`, nil
		}
	}
	src, err := NewParamStoreKey(g, "/prediction-api")
	require.NoError(t, err)

	_, err = src.APIKey(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "throttled")

	key, err := src.APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AQVN-from-ssm", key)

	key, err = src.APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AQVN-from-ssm", key)
	require.Equal(t, 2, calls)
}

func TestFetchAPIKey_MissingTokenField(t *testing.T) {
	_, err := fetchAPIKey(context.Background(), &fakeGetter{val: `{"other":"value"}`}, "/p/yandex-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "API key is empty")
}

func TestFetchAPIKey_MalformedJSON(t *testing.T) {
	_, err := fetchAPIKey(context.Background(), &fakeGetter{val: `{"broken`}, "/p/yandex-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestFetchAPIKey_GetterError(t *testing.T) {
	_, err := fetchAPIKey(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/p/yandex-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestFetchAPIKey_NilGetterAndEmptyName(t *testing.T) {
	_, err := fetchAPIKey(context.Background(), nil, "/p/yandex-api-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = fetchAPIKey(context.Background(), &fakeGetter{val: `{"token":"x"}`}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}
