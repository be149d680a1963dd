package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/agentx/guardian-backend/internal/models"
)

// contentIDPrefix marks cache keys that name resolved content rather than text
const contentIDPrefix = "content-id:"

// NormalizeContent collapses whitespace and case so trivially different
// copies of the same text share a fingerprint.
func NormalizeContent(content string) string {
	return strings.ToLower(strings.Join(strings.Fields(content), " "))
}

// Fingerprint is the cache identity of (detection type, normalized content).
// It does not depend on who asked.
func Fingerprint(t models.DetectionType, normalized string) string {
	h := sha256.New()
	h.Write([]byte(t))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentIDKey is the cache key for content resolved to a platform identifier
func ContentIDKey(contentID string) string {
	return contentIDPrefix + contentID
}
