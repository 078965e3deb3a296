package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/waddlebot/router/internal/auth"
)

func eventBody(t *testing.T) string {
	t.Helper()
	b, err := json.Marshal(validEvent())
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestHandler_EventsCollectorOnly(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.processor, BatchConfig{}, f.processor.logger)

	tests := []struct {
		name        string
		accountType string
		want        int
	}{
		{"collector passes", auth.TypeCollector, http.StatusOK},
		{"admin passes", auth.TypeAdmin, http.StatusOK},
		{"interaction rejected", auth.TypeInteraction, http.StatusForbidden},
		{"webhook rejected", auth.TypeWebhook, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(asAccountType(tt.accountType, h.Routes()))
			defer srv.Close()

			for _, path := range []string{"/events", "/events/batch"} {
				body := eventBody(t)
				if path == "/events/batch" {
					body = `{"events":[` + body + `]}`
				}
				resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
				if err != nil {
					t.Fatal(err)
				}
				resp.Body.Close()
				if resp.StatusCode != tt.want {
					t.Errorf("%s status = %d, want %d", path, resp.StatusCode, tt.want)
				}
			}
		})
	}
}

func TestHandler_AnonymousEventsRejected(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.processor, BatchConfig{}, f.processor.logger)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader(eventBody(t)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without an identity", resp.StatusCode)
	}
}

func TestHandler_MetricsOpenToAnyAccount(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.processor, BatchConfig{}, f.processor.logger)
	srv := httptest.NewServer(asAccountType(auth.TypeWebhook, h.Routes()))
	defer srv.Close()

	for _, path := range []string{"/metrics", "/health"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
