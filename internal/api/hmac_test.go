package api

import (
	"testing"
)

func TestVerifySignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"version":1,"ipm_id":"abc","command_name":"delete_commands","commands":"x"}`)
	signed := Sign(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{name: "valid signature - prefixed", body: body, signature: signed, secret: secret},
		{name: "valid signature - plain hex", body: body, signature: signed[len("sha256="):], secret: secret},
		{
			name:      "invalid signature - wrong signature",
			body:      body,
			signature: "sha256=0000000000000000000000000000000000000000000000000000000000000000",
			secret:    secret,
			wantErr:   true,
		},
		{name: "invalid signature - tampered body", body: []byte(`{"ipm_id":"evil"}`), signature: signed, secret: secret, wantErr: true},
		{name: "invalid signature - wrong secret", body: body, signature: signed, secret: "wrong-secret", wantErr: true},
		{name: "invalid signature - empty signature", body: body, signature: "", secret: secret, wantErr: true},
		{name: "invalid signature - empty secret", body: body, signature: signed, secret: "", wantErr: true},
		{name: "invalid signature - malformed hex", body: body, signature: "sha256=not-hex", secret: secret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifySignature(tt.body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("verifySignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err.Error() != "signature verification failed" {
				t.Fatalf("error leaks detail: %v", err)
			}
		})
	}
}
