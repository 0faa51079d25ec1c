package keygen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// GenerateShortId generates 8 random hex characters (4 bytes)
func GenerateShortId() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to uuid entropy
		return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}
	return fmt.Sprintf("%x", b)
}

// NewTaskID returns an identifier of the form task_<8 hex>.
func NewTaskID() string {
	return "task_" + GenerateShortId()
}

// GenerateRandomPassword generates a secure random string of given length
func GenerateRandomPassword(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		result[i] = charset[num.Int64()]
	}
	return string(result)
}

// GenerateAPIKey returns an API key with a fixed ns_ prefix.
func GenerateAPIKey() string {
	return "ns_" + GenerateRandomPassword(40)
}
