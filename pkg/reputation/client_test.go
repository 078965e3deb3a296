package reputation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMapEventType(t *testing.T) {
	if got := MapEventType("chatMessage"); got != "message" {
		t.Errorf("chatMessage mapped to %q, want message", got)
	}
	if got := MapEventType("cheer"); got != "cheer" {
		t.Errorf("cheer mapped to %q, want pass-through", got)
	}
}

func TestClient_Apply(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding event: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Apply(context.Background(), Event{
		UserID:    "u1",
		UserName:  "alice",
		EntityID:  "twitch+chan",
		Platform:  "twitch",
		EventType: "chatMessage",
		Metadata:  map[string]any{"bits": 100},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.EventType != "message" {
		t.Errorf("event_type = %q, want message (mapped before send)", got.EventType)
	}
	if got.UserID != "u1" {
		t.Errorf("user_id = %q", got.UserID)
	}
}

func TestClient_ApplyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).Apply(context.Background(), Event{}); err == nil {
		t.Error("expected error on 500")
	}
}
