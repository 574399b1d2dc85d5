package sipcore

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateCallID генерирует уникальный Call-ID
func GenerateCallID() string {
	return uuid.NewString()
}

// GenerateTag генерирует случайный тег для диалога
func GenerateTag() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// GenerateBranch генерирует branch параметр Via с magic cookie RFC 3261
func GenerateBranch() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "z9hG4bK" + hex.EncodeToString(bytes)
}
