package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type sampleRequest struct {
	Name      string `json:"name" validate:"required,min=3"`
	Kind      string `json:"kind" validate:"required,oneof=container lambda"`
	RateLimit int    `json:"rate_limit" validate:"gte=0"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"name":"help","kind":"container"}`, ""},
		{"empty body", ``, "request body is empty"},
		{"malformed", `{"name":`, "invalid JSON"},
		{"unknown field", `{"name":"help","bogus":1}`, "invalid JSON"},
		{"trailing data", `{"name":"help"}{"name":"again"}`, "single JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst sampleRequest
			err := Decode(r, &dst)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecode_BodyTooLarge(t *testing.T) {
	big := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))

	var dst sampleRequest
	err := Decode(r, &dst)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("error = %v, want body-too-large", err)
	}
}

func TestValidate(t *testing.T) {
	if errs := Validate(sampleRequest{Name: "help", Kind: "container"}); errs != nil {
		t.Errorf("valid struct produced errors: %v", errs)
	}

	errs := Validate(sampleRequest{Name: "ab", Kind: "rocket", RateLimit: -1})
	if len(errs) != 3 {
		t.Fatalf("errors = %d, want 3: %v", len(errs), errs)
	}

	byField := map[string]string{}
	for _, e := range errs {
		byField[e.Field] = e.Message
	}
	if msg := byField["name"]; !strings.Contains(msg, "at least 3") {
		t.Errorf("name message = %q", msg)
	}
	if msg := byField["kind"]; !strings.Contains(msg, "one of") {
		t.Errorf("kind message = %q", msg)
	}
	if _, ok := byField["rate_limit"]; !ok {
		t.Errorf("field names = %v, want snake_case rate_limit", byField)
	}
}

func TestDecodeAndValidate(t *testing.T) {
	t.Run("bad JSON responds 400", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		rec := httptest.NewRecorder()

		var dst sampleRequest
		if DecodeAndValidate(rec, r, &dst) {
			t.Fatal("should fail")
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid fields respond 422 with details", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"help","kind":"rocket"}`))
		rec := httptest.NewRecorder()

		var dst sampleRequest
		if DecodeAndValidate(rec, r, &dst) {
			t.Fatal("should fail")
		}
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", rec.Code)
		}

		var resp ValidationErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Error != "validation_error" || len(resp.Details) != 1 {
			t.Errorf("response = %+v", resp)
		}
		if resp.Details[0].Field != "kind" {
			t.Errorf("field = %q, want kind", resp.Details[0].Field)
		}
	})

	t.Run("valid body passes", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"help","kind":"lambda","rate_limit":5}`))
		rec := httptest.NewRecorder()

		var dst sampleRequest
		if !DecodeAndValidate(rec, r, &dst) {
			t.Fatalf("should pass, body: %s", rec.Body.String())
		}
		if dst.Name != "help" || dst.Kind != "lambda" || dst.RateLimit != 5 {
			t.Errorf("decoded = %+v", dst)
		}
	})
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Name":           "name",
		"RateLimit":      "rate_limit",
		"MessageContent": "message_content",
		"already_snake":  "already_snake",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
