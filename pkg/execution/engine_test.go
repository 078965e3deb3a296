package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waddlebot/router/pkg/command"
)

func testEngine() *Engine {
	e := NewEngine(slog.Default(), "", 5*time.Second, 3)
	e.backoffInitial = time.Millisecond
	return e
}

func testRequest() Request {
	return Request{
		Command:    "help",
		Parameters: []string{},
		User:       User{ID: "u1", Name: "alice"},
		Context:    Context{Platform: "twitch", ServerID: "chan", EntityID: "twitch+chan"},
		RawMessage: "!help",
	}
}

func TestEngine_DispatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		if req.Command != "help" {
			t.Errorf("command = %q", req.Command)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	res := testEngine().Dispatch(context.Background(), command.Command{
		Type:        command.TypeContainer,
		LocationURL: srv.URL,
	}, testRequest())

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d", res.StatusCode)
	}
	if string(res.ResponseData) != `{"message":"ok"}` {
		t.Errorf("response = %s", res.ResponseData)
	}
}

func TestEngine_WrapsNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text reply"))
	}))
	defer srv.Close()

	res := testEngine().Dispatch(context.Background(), command.Command{
		Type:        command.TypeWebhook,
		LocationURL: srv.URL,
	}, testRequest())

	var wrapped map[string]string
	if err := json.Unmarshal(res.ResponseData, &wrapped); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if wrapped["response"] != "plain text reply" {
		t.Errorf("wrapped = %v", wrapped)
	}
}

func TestEngine_OpenWhiskAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := NewEngine(slog.Default(), "d2hpc2s=", 5*time.Second, 3)
	e.Dispatch(context.Background(), command.Command{
		Type:        command.TypeOpenWhisk,
		LocationURL: srv.URL,
	}, testRequest())

	if gotAuth != "Basic d2hpc2s=" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestEngine_LambdaRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	res := testEngine().Dispatch(context.Background(), command.Command{
		Type:        command.TypeLambda,
		LocationURL: srv.URL,
		MaxRetries:  3,
	}, testRequest())

	if !res.Success {
		t.Fatalf("expected eventual success, got %q", res.Error)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if res.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", res.RetryCount)
	}
}

func TestEngine_LambdaDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	res := testEngine().Dispatch(context.Background(), command.Command{
		Type:        command.TypeLambda,
		LocationURL: srv.URL,
		MaxRetries:  3,
	}, testRequest())

	if res.Success {
		t.Fatal("expected failure")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx is permanent)", calls.Load())
	}
}

func TestEngine_NonLambdaSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := testEngine().Dispatch(context.Background(), command.Command{
		Type:        command.TypeContainer,
		LocationURL: srv.URL,
	}, testRequest())

	if res.Success {
		t.Fatal("expected failure")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
