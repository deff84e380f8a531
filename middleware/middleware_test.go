package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() (http.Handler, *int) {
	calls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}), &calls
}

func TestCORSSameOriginUntouched(t *testing.T) {
	next, calls := okHandler()
	h := (&CORS{AllowedOrigins: []string{"*"}}).Wrap(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))

	if *calls != 1 {
		t.Fatalf("next ran %d times, want 1", *calls)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q on same-origin request, want empty", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	next, calls := okHandler()
	h := (&CORS{AllowedOrigins: []string{"https://app.test"}}).Wrap(next)

	req := httptest.NewRequest("OPTIONS", "/x", nil)
	req.Header.Set("Origin", "https://app.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if *calls != 0 {
		t.Errorf("next ran for a preflight request")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.test" {
		t.Errorf("Allow-Origin = %q, want the request origin", got)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Allow-Methods missing from preflight response")
	}
}

func TestCORSOriginFiltering(t *testing.T) {
	tests := []struct {
		name   string
		cors   *CORS
		origin string
		want   string
	}{
		{"allowed origin echoed", &CORS{AllowedOrigins: []string{"https://a.test"}}, "https://a.test", "https://a.test"},
		{"unknown origin refused", &CORS{AllowedOrigins: []string{"https://a.test"}}, "https://b.test", ""},
		{"wildcard", &CORS{AllowedOrigins: []string{"*"}}, "https://b.test", "*"},
		{"wildcard blocked with credentials", &CORS{AllowedOrigins: []string{"*"}, AllowCredentials: true}, "https://b.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, _ := okHandler()
			req := httptest.NewRequest("GET", "/x", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			tt.cors.Wrap(next).ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	next, _ := okHandler()
	rec := httptest.NewRecorder()
	SecurityHeaders(next).ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for key, value := range want {
		if got := rec.Header().Get(key); got != value {
			t.Errorf("%s = %q, want %q", key, got, value)
		}
	}
}
