package protocol

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"fmt"
)

// GenerateChallenge creates a cryptographically secure random nonce for
// the auth handshake
func GenerateChallenge() ([]byte, error) {
	challenge := make([]byte, ChallengeLength)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	return challenge, nil
}

// ComputeDigest computes HMAC-SHA1(key, challenge)
func ComputeDigest(key, challenge []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(challenge)
	return mac.Sum(nil)
}

// VerifyDigest verifies a digest using constant-time comparison
func VerifyDigest(key, challenge, digest []byte) bool {
	return hmac.Equal(digest, ComputeDigest(key, challenge))
}
