package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"reads": {RequestsPerMinute: 1, Burst: 1},
	})

	handler := limiter.Middleware("reads")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/pool/stats", nil)
	req.RemoteAddr = "192.0.2.10:5000"
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"reads":   {RequestsPerMinute: 1, Burst: 1},
		"partner": {RequestsPerMinute: 1, Burst: 1},
	})

	readsHandler := limiter.Middleware("reads")(okHandler())
	partnerHandler := limiter.Middleware("partner")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/pool/stats", nil)
	req.RemoteAddr = "192.0.2.10:5000"
	res := httptest.NewRecorder()
	readsHandler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected reads request to succeed, got %d", res.Code)
	}

	partnerReq := httptest.NewRequest(http.MethodPost, "/v1/partner/requests", nil)
	partnerReq.RemoteAddr = "192.0.2.10:5000"
	partnerRes := httptest.NewRecorder()
	partnerHandler.ServeHTTP(partnerRes, partnerReq)
	if partnerRes.Code != http.StatusOK {
		t.Fatalf("expected first partner request to succeed, got %d", partnerRes.Code)
	}

	partnerRes = httptest.NewRecorder()
	partnerHandler.ServeHTTP(partnerRes, partnerReq)
	if partnerRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second partner request to hit limit, got %d", partnerRes.Code)
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"reads": {RequestsPerMinute: 1, Burst: 1},
	})

	handler := limiter.Middleware("reads")(okHandler())

	reqA := httptest.NewRequest(http.MethodGet, "/v1/pool/stats", nil)
	reqA.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	resA := httptest.NewRecorder()
	handler.ServeHTTP(resA, reqA)
	if resA.Code != http.StatusOK {
		t.Fatalf("expected first client to succeed, got %d", resA.Code)
	}

	reqB := httptest.NewRequest(http.MethodGet, "/v1/pool/stats", nil)
	reqB.Header.Set("X-Forwarded-For", "203.0.113.8, 10.0.0.1")
	resB := httptest.NewRecorder()
	handler.ServeHTTP(resB, reqB)
	if resB.Code != http.StatusOK {
		t.Fatalf("expected second client to succeed, got %d", resB.Code)
	}

	resA = httptest.NewRecorder()
	handler.ServeHTTP(resA, reqA)
	if resA.Code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat from first client to hit limit, got %d", resA.Code)
	}
}

func TestRateLimiterPassesUnknownKeys(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{})

	handler := limiter.Middleware("reads")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/pool/stats", nil)
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: expected pass-through without configured limit, got %d", i, res.Code)
		}
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"reads": {RequestsPerMinute: 60, Burst: 2},
	})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	if !limiter.allow("reads|203.0.113.7", limiter.limits["reads"]) {
		t.Fatal("expected first request to be admitted")
	}
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected one tracked visitor, got %d", len(limiter.visitors))
	}

	now = now.Add(visitorTTL + sweepInterval)
	if !limiter.allow("reads|203.0.113.8", limiter.limits["reads"]) {
		t.Fatal("expected request after idle period to be admitted")
	}
	if _, ok := limiter.visitors["reads|203.0.113.7"]; ok {
		t.Fatal("expected idle visitor to be swept")
	}
}
