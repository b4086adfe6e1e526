package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestI18NDetectLocale(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		lookup  CountryLookup
		want    string
	}{
		{
			name:    "x-locale wins",
			headers: map[string]string{"X-Locale": "en", "Accept-Language": "ru-RU,ru;q=0.9"},
			want:    "en",
		},
		{
			name:    "accept-language russian",
			headers: map[string]string{"Accept-Language": "ru-RU,ru;q=0.9,en;q=0.8"},
			want:    "ru",
		},
		{
			name:    "accept-language english",
			headers: map[string]string{"Accept-Language": "en-US,en;q=0.9"},
			want:    "en",
		},
		{
			name:    "unsupported language falls back to default",
			headers: map[string]string{"Accept-Language": "zh-CN"},
			want:    "ru",
		},
		{
			name:    "country header russian-speaking",
			headers: map[string]string{"X-Country-Code": "kz"},
			want:    "ru",
		},
		{
			name:    "country header elsewhere",
			headers: map[string]string{"CF-IPCountry": "DE"},
			want:    "en",
		},
		{
			name:   "geoip lookup",
			remote: "203.0.113.5:1234",
			lookup: func(ip string) (string, error) { return "BY", nil },
			want:   "ru",
		},
		{
			name: "no hints falls back to default",
			want: "ru",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotLocale string
			handler := I18N("ru", tt.lookup)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotLocale = LocaleFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.remote != "" {
				req.RemoteAddr = tt.remote
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if gotLocale != tt.want {
				t.Errorf("locale = %q, want %q", gotLocale, tt.want)
			}
		})
	}
}

func TestNormalizeLocale(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ru", "ru"},
		{"ru-RU", "ru"},
		{"en", "en"},
		{"en-GB", "en"},
		{"ja", "en"},
		{"garbage!!", "ru"},
	}
	for _, tt := range tests {
		if got := NormalizeLocale(tt.in); got != tt.want {
			t.Errorf("NormalizeLocale(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
