package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
	"github.com/xkilldash9x/weblogin-harvester/internal/apperr"
	"github.com/xkilldash9x/weblogin-harvester/internal/config"
)

type fakeService struct {
	mu        sync.Mutex
	cookies   []schemas.CookieRecord
	err       error
	overrides []schemas.Credentials
	report    schemas.StatusReport
}

func (f *fakeService) LoginToWeb(_ context.Context, override schemas.Credentials) ([]schemas.CookieRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides = append(f.overrides, override)
	return f.cookies, f.err
}

func (f *fakeService) Status(context.Context) schemas.StatusReport {
	return f.report
}

func newTestServer(t *testing.T, svc Service, mutate ...func(*config.Config)) (*Server, *config.Config) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Environment = "DEVELOPMENT"
	cfg.Server.LoginRate = 0
	for _, m := range mutate {
		m(cfg)
	}
	return New(cfg, svc, zaptest.NewLogger(t)), cfg
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{})
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "DEVELOPMENT", body["environment"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestStatus(t *testing.T) {
	webURL := "https://app.example.com"
	svc := &fakeService{report: schemas.StatusReport{
		Environment:          "DEVELOPMENT",
		Configuration:        schemas.ConfigurationStatus{HasEmail: true, HasWebURL: true, WebURL: &webURL},
		MissingConfiguration: []string{"PASSWORD"},
		Uptime:               12.5,
	}}
	s, _ := newTestServer(t, svc)
	rec := do(t, s.Handler(), http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["isConfigured"])
	assert.Equal(t, []interface{}{"PASSWORD"}, body["missingConfiguration"])
	assert.Equal(t, 12.5, body["uptime"])
	configuration := body["configuration"].(map[string]interface{})
	assert.Equal(t, "https://app.example.com", configuration["webUrl"])
	assert.Equal(t, false, configuration["hasPassword"])
}

func TestLoginToWeb_Success(t *testing.T) {
	expires := 1.7e9
	svc := &fakeService{cookies: []schemas.CookieRecord{
		{Name: "sid", Value: "abc", Domain: "app.example.com", Path: "/", HostOnly: true, Priority: "Medium", ExpirationDate: &expires},
	}}
	s, _ := newTestServer(t, svc)
	rec := do(t, s.Handler(), http.MethodGet, "/login-to-web", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var cookies []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cookies))
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0]["name"])
	assert.Equal(t, true, cookies[0]["hostOnly"])
	assert.Equal(t, 1.7e9, cookies[0]["expirationDate"])
	assert.Contains(t, cookies[0], "storeId")
	assert.Nil(t, cookies[0]["storeId"])
	assert.Equal(t, []schemas.Credentials{{}}, svc.overrides)
}

func TestLoginToWeb_EmptyResultIsArray(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{})
	rec := do(t, s.Handler(), http.MethodGet, "/login-to-web", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestLoginToWeb_PostOverride(t *testing.T) {
	svc := &fakeService{}
	s, _ := newTestServer(t, svc)

	rec := do(t, s.Handler(), http.MethodPost, "/login-to-web", `{"EMAIL":"other@example.com","WEB_URL":"https://other.example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/login-to-web", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []schemas.Credentials{
		{Email: "other@example.com", WebURL: "https://other.example.com"},
		{},
	}, svc.overrides)

	rec = do(t, s.Handler(), http.MethodPost, "/login-to-web", `{"EMAIL":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, svc.overrides, 2)
}

func TestLoginToWeb_FailureStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"configuration", apperr.New(apperr.KindConfiguration, "service.login", "missing required configuration: EMAIL"), http.StatusBadRequest},
		{"authentication", apperr.New(apperr.KindAuthentication, "login.email", "submit button not found"), http.StatusUnauthorized},
		{"selector timeout", apperr.New(apperr.KindSelectorTimeout, "login.password", "password field not found"), http.StatusRequestTimeout},
		{"navigation", apperr.New(apperr.KindNavigation, "login.navigate", "failed to load target page"), http.StatusRequestTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusRequestTimeout},
		{"launch", apperr.New(apperr.KindBrowserLaunch, "browser.launch", "no executable"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeService{err: tt.err})
			rec := do(t, s.Handler(), http.MethodGet, "/login-to-web", "")

			require.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "Web login failed", body["error"])
			assert.Equal(t, tt.err.Error(), body["message"])
			assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), body["requestId"])
			assert.Regexp(t, `^\d+ms$`, body["duration"])
			assert.NotEmpty(t, body["timestamp"])
		})
	}
}

func TestLoginToWeb_StackHiddenInProduction(t *testing.T) {
	err := apperr.New(apperr.KindNavigation, "login.navigate", "failed to load target page")

	s, _ := newTestServer(t, &fakeService{err: err})
	body := decode(t, do(t, s.Handler(), http.MethodGet, "/login-to-web", ""))
	assert.NotEmpty(t, body["stack"])

	s, _ = newTestServer(t, &fakeService{err: err}, func(c *config.Config) { c.Environment = config.EnvironmentProduction })
	body = decode(t, do(t, s.Handler(), http.MethodGet, "/login-to-web", ""))
	assert.NotContains(t, body, "stack")
}

func TestLoginToWeb_RateLimited(t *testing.T) {
	svc := &fakeService{}
	s, _ := newTestServer(t, svc, func(c *config.Config) {
		c.Server.LoginRate = 1
		c.Server.LoginBurst = 1
	})
	h := s.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/login-to-web", "").Code)
	rec := do(t, h, http.MethodGet, "/login-to-web", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, svc.overrides, 1)

	// Other endpoints are not limited.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
}

func TestValidateCookies(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{})
	h := s.Handler()

	t.Run("duplicates are kept", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/validate-cookies",
			`{"cookies":[{"name":"a","value":"1","domain":"x.com"},{"name":"a","value":"1","domain":"x.com"}]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var body validationBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, schemas.ValidationSummary{Total: 2, Valid: 2, Invalid: 0, Session: 0, Persistent: 2}, body.Validation)
		assert.Len(t, body.Cookies, 2)
	})

	t.Run("mixed entries", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/validate-cookies", `{"cookies":[
			{"name":"a","value":"1","domain":"x.com","session":true},
			{"name":"b","value":"","domain":"x.com"},
			{"name":"c","value":"0","domain":"x.com","session":false},
			{"name":"d","value":0,"domain":"x.com"},
			null,
			"cookie"
		]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var body validationBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, schemas.ValidationSummary{Total: 6, Valid: 2, Invalid: 4, Session: 1, Persistent: 1}, body.Validation)
		require.Len(t, body.Cookies, 2)
		assert.JSONEq(t, `{"name":"a","value":"1","domain":"x.com","session":true}`, string(body.Cookies[0]))
	})

	t.Run("string encoded body", func(t *testing.T) {
		inner, err := json.Marshal(`{"cookies":[{"name":"a","value":"1","domain":"x.com"}]}`)
		require.NoError(t, err)
		rec := do(t, h, http.MethodPost, "/validate-cookies", string(inner))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decode(t, rec)["validation"].(map[string]interface{})["valid"])
	})

	t.Run("malformed bodies", func(t *testing.T) {
		for _, body := range []string{`{"cookies":`, `"{not json"`} {
			rec := do(t, h, http.MethodPost, "/validate-cookies", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
			assert.Equal(t, "Invalid JSON body", decode(t, rec)["error"])
		}
		for _, body := range []string{"", `{}`, `{"cookies":{"name":"a"}}`, `[1,2]`} {
			rec := do(t, h, http.MethodPost, "/validate-cookies", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
			assert.Equal(t, "Invalid request body", decode(t, rec)["error"])
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/validate-cookies", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "Method Not Allowed", decode(t, rec)["error"])
		assert.Equal(t, "POST", rec.Header().Get("Allow"))
	})
}

func TestMethodNotAllowed_ListsAllowedMethods(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{})
	h := s.Handler()

	tests := []struct {
		method string
		path   string
		allow  string
	}{
		{http.MethodPost, "/status", "GET"},
		{http.MethodPost, "/health", "GET"},
		{http.MethodGet, "/validate-cookies", "POST"},
		{http.MethodDelete, "/login-to-web", "GET, POST"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, "")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, tt.allow, rec.Header().Get("Allow"))
		})
	}
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{})
	h := s.Handler()

	rec := do(t, h, http.MethodOptions, "/login-to-web", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Len(t, rec.Header().Get(middleware.RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "caller-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeService{})
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServe_ShutsDownWhenContextEnds(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, _ := newTestServer(t, &fakeService{}, func(c *config.Config) { c.Server.ShutdownTimeout = time.Second })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	client := &http.Client{Timeout: time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
