package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIPRateLimiterBurstThenRefill(t *testing.T) {
	l := NewIPRateLimiter(2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("1.1.1.1") || !l.Allow("1.1.1.1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("1.1.1.1") {
		t.Fatal("third request inside a minute should be limited")
	}
	if !l.Allow("2.2.2.2") {
		t.Fatal("limits are per key")
	}

	now = now.Add(30 * time.Second)
	if !l.Allow("1.1.1.1") {
		t.Fatal("one token should refill after 30s at 2/min")
	}
}

func TestIPRateLimiterEvictsIdle(t *testing.T) {
	l := NewIPRateLimiter(1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(11 * time.Minute)
	l.Allow("new")
	if _, ok := l.limiters["old"]; ok {
		t.Fatal("idle visitor was not evicted")
	}
}

func TestIPRateLimiterDisabled(t *testing.T) {
	l := NewIPRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !l.Allow("x") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestGinMiddlewareReturns429(t *testing.T) {
	r := gin.New()
	r.Use(NewIPRateLimiter(1).GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("status codes = %v, want [200 429]", codes)
	}
}

func TestGinMiddlewareSkipPaths(t *testing.T) {
	r := gin.New()
	r.Use(NewIPRateLimiter(1).GinMiddleware("/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/qr", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("healthz request %d status = %d, want 200", i, w.Code)
		}
	}

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/qr", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("/qr status codes = %v, want [200 429]", codes)
	}
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(nil), SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://faculty.example")
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://faculty.example" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want echoed origin", got)
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://ok.example"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for disallowed origin", w.Code)
	}
}

func TestCORSCredentialsOnlyWithOriginList(t *testing.T) {
	cases := []struct {
		origins []string
		want    string
	}{
		{nil, ""},
		{[]string{"https://faculty.example"}, "true"},
	}
	for _, tc := range cases {
		r := gin.New()
		r.Use(CORS(tc.origins))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://faculty.example")
		r.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tc.want {
			t.Fatalf("CORS(%v) Access-Control-Allow-Credentials = %q, want %q", tc.origins, got, tc.want)
		}
	}
}
