package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
)

type recordedCall struct {
	base, outcome string
}

func jsonServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(candidates []Candidate, calls *[]recordedCall) *Client {
	return New(Config{
		Candidates: candidates,
		Tokens:     StaticTokenSource("token-1"),
		Timeout:    2 * time.Second,
		Observer: func(base, outcome string) {
			if calls != nil {
				*calls = append(*calls, recordedCall{base, outcome})
			}
		},
	})
}

func TestResolveCandidates(t *testing.T) {
	t.Run("override wins", func(t *testing.T) {
		got := ResolveCandidates(ResolverConfig{Override: "https://override", Development: true, ProxyPath: "/api", Remote: "https://remote"})
		require.Len(t, got, 1)
		assert.Equal(t, "https://override", got[0].Base)
		assert.False(t, got[0].Relative)
	})
	t.Run("development proxy then remote", func(t *testing.T) {
		got := ResolveCandidates(ResolverConfig{Development: true, ProxyPath: "/api", ProxyOrigin: "http://localhost:3000", Remote: "https://remote"})
		require.Len(t, got, 2)
		assert.True(t, got[0].Relative)
		assert.Equal(t, "http://localhost:3000/api/payments/p1", got[0].URL("payments/p1"))
		assert.Equal(t, "https://remote/payments/p1", got[1].URL("/payments/p1"))
	})
	t.Run("production remote only", func(t *testing.T) {
		got := ResolveCandidates(ResolverConfig{ProxyPath: "/api", Remote: "https://remote"})
		require.Len(t, got, 1)
		assert.Equal(t, "https://remote", got[0].Base)
	})
}

func TestCallFailsOverFromProxyServerError(t *testing.T) {
	proxy := jsonServer(t, http.StatusBadGateway, `{"success":false,"error":"proxy down"}`, nil)
	remote := jsonServer(t, http.StatusOK, `{"success":true,"data":{"amount":9500}}`, nil)

	var calls []recordedCall
	client := newTestClient([]Candidate{
		{Base: "/api", Relative: true, Origin: proxy.URL},
		{Base: remote.URL},
	}, &calls)

	var out struct {
		Amount int64 `json:"amount"`
	}
	require.NoError(t, client.Call(context.Background(), "payments/p1", Options{}, &out))
	assert.Equal(t, int64(9500), out.Amount)
	assert.Equal(t, []recordedCall{{"/api", OutcomeServerError}, {remote.URL, OutcomeOK}}, calls)
}

func TestCallStopsAfterClientErrorOnAbsoluteBase(t *testing.T) {
	var secondHits int32
	first := jsonServer(t, http.StatusNotFound, `{"success":false,"error":"payment not found"}`, nil)
	second := jsonServer(t, http.StatusOK, `{"success":true,"data":{}}`, &secondHits)

	client := newTestClient([]Candidate{{Base: first.URL}, {Base: second.URL}}, nil)
	err := client.Call(context.Background(), "payments/p1", Options{}, nil)

	appErr := appErrors.FromError(err)
	assert.Equal(t, "CLIENT_ERROR", appErr.Code)
	assert.Equal(t, appErrors.TypeNotFound, appErr.Type)
	assert.Equal(t, "payment not found", appErr.Message)
	assert.Equal(t, int32(0), atomic.LoadInt32(&secondHits))
}

func TestCallContinuesAfterClientErrorOnRelativeBase(t *testing.T) {
	proxy := jsonServer(t, http.StatusNotFound, `{"success":false}`, nil)
	remote := jsonServer(t, http.StatusOK, `{"success":true,"data":{"ok":true}}`, nil)

	client := newTestClient([]Candidate{{Base: "/api", Relative: true, Origin: proxy.URL}, {Base: remote.URL}}, nil)
	require.NoError(t, client.Call(context.Background(), "x", Options{}, nil))
}

func TestCallInvalidResponseThenLastErrorReturned(t *testing.T) {
	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer html.Close()
	failing := jsonServer(t, http.StatusInternalServerError, `{"success":false,"error":"db down"}`, nil)

	client := newTestClient([]Candidate{{Base: html.URL}, {Base: failing.URL}}, nil)
	err := client.Call(context.Background(), "x", Options{}, nil)
	appErr := appErrors.FromError(err)
	assert.Equal(t, "SERVER_ERROR", appErr.Code)
	assert.Equal(t, appErrors.TypeServer, appErr.Type)
}

func TestCallPayloadFailureIsServerError(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"success":false,"error":"not captured"}`, nil)
	client := newTestClient([]Candidate{{Base: srv.URL}}, nil)
	err := client.Call(context.Background(), "x", Options{}, nil)
	assert.Equal(t, "SERVER_ERROR", appErrors.FromError(err).Code)
}

func TestCallNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := newTestClient([]Candidate{{Base: addr}}, nil)
	err := client.Call(context.Background(), "x", Options{}, nil)
	assert.Equal(t, appErrors.TypeNetwork, appErrors.Classify(err))
}

func TestCallRequiresToken(t *testing.T) {
	client := New(Config{Candidates: []Candidate{{Base: "http://unused"}}})
	err := client.Call(context.Background(), "x", Options{}, nil)
	assert.Equal(t, appErrors.TypeAuthentication, appErrors.Classify(err))
	assert.Equal(t, "UNAUTHENTICATED", appErrors.FromError(err).Code)
}

func TestServiceTokenSourceCachesToken(t *testing.T) {
	src := NewServiceTokenSource("secret", "commerce-api", time.Minute)
	first, err := src.Token(context.Background())
	require.NoError(t, err)
	second, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	parsed, err := jwt.ParseWithClaims(first, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	require.NoError(t, err)
	sub, _ := parsed.Claims.GetSubject()
	assert.Equal(t, "commerce-api", sub)

	src.now = func() time.Time { return time.Now().Add(time.Minute) }
	third, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	empty, err := NewServiceTokenSource("", "x", time.Minute).Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
