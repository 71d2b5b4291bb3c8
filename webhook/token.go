package webhook

import (
	"crypto/subtle"
	"fmt"
	"strings"
)

// ExtractBearer pulls the credential out of an Authorization header.
// Missing header, wrong scheme, or an empty token are each rejected.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("webhook: authorization header is required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("webhook: authorization scheme must be Bearer")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("webhook: bearer token is empty")
	}
	return token, nil
}

// VerifyToken compares a presented token against the shared secret in time
// independent of the first mismatching byte. Length differences are
// rejected up front; equal-length comparison is constant time.
func VerifyToken(presented string, secret string) bool {
	if secret == "" {
		return false
	}
	if len(presented) != len(secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}
