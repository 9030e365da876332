package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// ComputeCodeChallenge derives the S256 code challenge from a verifier:
// BASE64URL(SHA256(ASCII(code_verifier))) per RFC 7636
func ComputeCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeChallenge checks a code_verifier against a stored
// code_challenge. Only the S256 method is accepted; "plain" violates
// OAuth 2.1 and is rejected outright.
func VerifyCodeChallenge(verifier, challenge, method string) bool {
	if method != "S256" {
		return false
	}

	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return false
	}

	computed := ComputeCodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
