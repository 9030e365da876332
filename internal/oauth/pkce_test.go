package oauth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyCodeChallenge(t *testing.T) {
	verifier := strings.Repeat("a", 43)
	challenge := ComputeCodeChallenge(verifier)

	tests := []struct {
		name      string
		verifier  string
		challenge string
		method    string
		want      bool
	}{
		{"valid S256", verifier, challenge, "S256", true},
		{"wrong verifier", strings.Repeat("b", 43), challenge, "S256", false},
		{"plain rejected", challenge, challenge, "plain", false},
		{"empty method rejected", verifier, challenge, "", false},
		{"unknown method rejected", verifier, challenge, "S512", false},
		{"verifier too short", strings.Repeat("a", 42), ComputeCodeChallenge(strings.Repeat("a", 42)), "S256", false},
		{"verifier too long", strings.Repeat("a", 129), ComputeCodeChallenge(strings.Repeat("a", 129)), "S256", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyCodeChallenge(tt.verifier, tt.challenge, tt.method))
		})
	}
}

func TestComputeCodeChallengeKnownValue(t *testing.T) {
	// RFC 7636 appendix B example
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		ComputeCodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}
