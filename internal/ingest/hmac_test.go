package ingest

import (
	"strings"
	"testing"
)

func TestVerifyHMACSignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"charge.succeeded"}`)
	secret := "whsec_test"
	valid := computeSignature(body, secret)

	tests := []struct {
		name      string
		signature string
		secret    string
		wantErr   bool
	}{
		{"valid bare hex", valid, secret, false},
		{"valid sha256 prefix", "sha256=" + valid, secret, false},
		{"uppercase prefix accepted", "SHA256=" + valid, secret, false},
		{"wrong secret", valid, "other", true},
		{"sha1 rejected", "sha1=" + valid, secret, true},
		{"truncated hex", valid[:40], secret, true},
		{"hex too long", valid + "00", secret, true},
		{"not hex", strings.Repeat("zz", 32), secret, true},
		{"empty signature", "", secret, true},
		{"empty secret", valid, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHMACSignature(body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("verifyHMACSignature() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyHMACSignatureErrorIsGeneric(t *testing.T) {
	t.Parallel()

	body := []byte(`{}`)
	for _, sig := range []string{"sha1=abc", "not-hex", computeSignature(body, "wrong")} {
		err := verifyHMACSignature(body, sig, "right")
		if err == nil {
			t.Fatalf("signature %q unexpectedly verified", sig)
		}
		if err.Error() != "webhook verification failed" {
			t.Errorf("error for %q leaks detail: %q", sig, err.Error())
		}
	}
}
