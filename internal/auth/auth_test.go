package auth

import (
	"net/http"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"trims whitespace", "Bearer  abc123 ", "abc123", false},
		{"missing header", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	tokens := []TokenConfig{
		{Token: "scoped", Scopes: []string{"webhooks:rw"}},
	}

	p, ok := Authenticate("admin-key", "admin-key", tokens)
	if !ok {
		t.Fatal("legacy key rejected")
	}
	if !HasAnyScope(p, "anything:at-all") {
		t.Error("legacy key should hold scope *")
	}

	p, ok = Authenticate("scoped", "admin-key", tokens)
	if !ok {
		t.Fatal("scoped token rejected")
	}
	if !HasAnyScope(p, "webhooks:rw") {
		t.Error("missing granted scope")
	}
	// Write implies read.
	if !HasAnyScope(p, "webhooks:ro") {
		t.Error("webhooks:rw should imply webhooks:ro")
	}
	if HasAnyScope(p, "events:ro") {
		t.Error("unexpected scope events:ro")
	}

	if _, ok := Authenticate("nope", "admin-key", tokens); ok {
		t.Error("unknown token accepted")
	}
	if _, ok := Authenticate("", "", nil); ok {
		t.Error("empty token accepted against empty config")
	}
}
