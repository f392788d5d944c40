package digreg

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/studybot-it/studybot/instrumentation"
	"github.com/studybot-it/studybot/providers"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	client, err := New(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		BaseURL:      serverURL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"missing client ID", &Config{ClientSecret: "secret"}},
		{"missing client secret", &Config{ClientID: "id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestClient_ExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			t.Errorf("path = %q, want /token", r.URL.Path)
		}
		if got := r.Header.Get("API-CLIENT-ID"); got != "test-client-id" {
			t.Errorf("API-CLIENT-ID = %q, want test-client-id", got)
		}
		if got := r.Header.Get("API-SECRET"); got != "test-client-secret" {
			t.Errorf("API-SECRET = %q, want test-client-secret", got)
		}

		var body struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Code != "auth-code" {
			t.Errorf("code = %q, want auth-code", body.Code)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"user_id": 42,
			"token": "SA1",
			"expiration": "2026-09-01T12:00:00Z",
			"refresh_token": "SR1"
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	tok, err := client.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if tok.AccessToken != "SA1" || tok.RefreshToken != "SR1" {
		t.Errorf("ExchangeCode() = %+v, want SA1/SR1", tok)
	}
	if tok.ProviderUserID != 42 {
		t.Errorf("ProviderUserID = %d, want 42", tok.ProviderUserID)
	}
	want := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, want)
	}
}

func TestClient_Refresh_PartialResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refresh_token" {
			t.Errorf("path = %q, want /refresh_token", r.URL.Path)
		}

		var body struct {
			UserID       int64  `json:"user_id"`
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.UserID != 42 {
			t.Errorf("user_id = %d, want 42", body.UserID)
		}
		if body.RefreshToken != "SR1" {
			t.Errorf("refresh_token = %q, want SR1", body.RefreshToken)
		}

		// The register omits user_id and refresh_token here.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token": "SA2", "expiration": "2026-09-01T14:30:00Z"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	tok, err := client.Refresh(context.Background(), "SR1", 42)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tok.AccessToken != "SA2" {
		t.Errorf("AccessToken = %q, want SA2", tok.AccessToken)
	}
	if tok.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want empty for a partial response", tok.RefreshToken)
	}
	if tok.ProviderUserID != 0 {
		t.Errorf("ProviderUserID = %d, want zero for a partial response", tok.ProviderUserID)
	}
	want := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	if !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, want)
	}
}

func TestClient_Refresh_InvalidGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Refresh(context.Background(), "revoked", 42)
	if !errors.Is(err, providers.ErrInvalidGrant) {
		t.Errorf("Refresh() error = %v, want ErrInvalidGrant", err)
	}
}

func TestClient_Refresh_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Refresh(context.Background(), "SR1", 42)
	if !errors.Is(err, providers.ErrProviderUnavailable) {
		t.Errorf("Refresh() error = %v, want ErrProviderUnavailable", err)
	}
}

func TestParseExpiration(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339", "2026-09-01T12:00:00Z", time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)},
		{"zone-less in register zone", "2026-01-15 12:00:00", time.Date(2026, 1, 15, 12, 0, 0, 0, registerLocation)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseExpiration(tt.input)
			if err != nil {
				t.Fatalf("parseExpiration(%q) error = %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseExpiration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := parseExpiration("not a timestamp"); err == nil {
		t.Error("parseExpiration with garbage input should fail")
	}
}

func TestParseExpiration_ZoneLessIsNotUTC(t *testing.T) {
	if registerLocation == time.UTC {
		t.Skip("no tzdata available on this host")
	}

	// A winter timestamp in the register's zone is CET, one hour ahead of UTC.
	// Reading it as UTC would make the expiry look an hour later than it is.
	got, err := parseExpiration("2026-01-15 12:00:00")
	if err != nil {
		t.Fatalf("parseExpiration() error = %v", err)
	}
	if got.Equal(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)) {
		t.Error("zone-less timestamp was read as UTC, want register local time")
	}
	if want := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("parseExpiration() = %v, want %v", got, want)
	}
}

func TestClient_FetchProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/me" {
			t.Errorf("path = %q, want /user/me", r.URL.Path)
		}
		if got := r.Header.Get("API-TOKEN"); got != "SA1" {
			t.Errorf("API-TOKEN = %q, want SA1", got)
		}
		if got := r.Header.Get("API-SECRET"); got != "" {
			t.Errorf("API-SECRET = %q, data endpoints must not carry the secret", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "firstName": "Ada", "lastName": "Lovelace"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	profile, err := client.FetchProfile(context.Background(), "SA1")
	if err != nil {
		t.Fatalf("FetchProfile() error = %v", err)
	}
	if profile.ID != "42" {
		t.Errorf("ID = %q, want 42", profile.ID)
	}
	if profile.Username != "Ada Lovelace" {
		t.Errorf("Username = %q, want Ada Lovelace", profile.Username)
	}
}

func TestClient_Grades_Passthrough(t *testing.T) {
	payload := `{"subjects":[{"name":"Math","grades":[8.5]}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/grade/my_grades" {
			t.Errorf("path = %q, want /grade/my_grades", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	data, err := client.Grades(context.Background(), "SA1")
	if err != nil {
		t.Fatalf("Grades() error = %v", err)
	}
	if string(data) != payload {
		t.Errorf("Grades() = %s, want untouched payload", data)
	}
}

func TestClient_Grades_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Grades(context.Background(), "stale")
	if !errors.Is(err, providers.ErrUnauthorized) {
		t.Errorf("Grades() error = %v, want ErrUnauthorized", err)
	}
}

func TestClient_UpcomingLessons(t *testing.T) {
	payload := `{"lessons":[]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lesson/my_lessons" {
			t.Errorf("path = %q, want /lesson/my_lessons", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	data, err := client.UpcomingLessons(context.Background(), "SA1")
	if err != nil {
		t.Fatalf("UpcomingLessons() error = %v", err)
	}
	if string(data) != payload {
		t.Errorf("UpcomingLessons() = %s, want untouched payload", data)
	}
}

func TestClient_RateLimiterThrottles(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := New(&Config{
		ClientID:          "test-client-id",
		ClientSecret:      "test-client-secret",
		BaseURL:           server.URL,
		RequestsPerSecond: 20,
		Burst:             1,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	for range 3 {
		if _, err := client.Grades(context.Background(), "SA1"); err != nil {
			t.Fatalf("Grades() error = %v", err)
		}
	}
	// 20 rps with burst 1 forces at least ~100ms across three calls.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("three calls finished in %v, limiter did not throttle", elapsed)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestClient_SetInstrumentation_RecordsCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/grade/my_grades" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, ServiceName: "digreg-test"})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	client := newTestClient(t, server.URL)
	client.SetInstrumentation(inst)

	// Success and failure paths both go through the call recorder.
	if _, err := client.Grades(context.Background(), "SA1"); err != nil {
		t.Fatalf("Grades() error = %v", err)
	}
	if _, err := client.Refresh(context.Background(), "revoked", 42); !errors.Is(err, providers.ErrInvalidGrant) {
		t.Fatalf("Refresh() error = %v, want ErrInvalidGrant", err)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Unauthenticated check; a 401 still proves the API answers.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
