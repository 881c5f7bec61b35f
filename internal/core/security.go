// AngelaMos | 2026
// security.go

package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

func GenerateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// NewIdempotencyKey returns a fresh key for one logical spend attempt.
// Callers that retry the same operation must reuse the key they got.
func NewIdempotencyKey() string {
	return "storywork_" + uuid.NewString()
}
