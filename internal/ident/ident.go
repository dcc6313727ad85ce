package ident

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	roomIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	RoomIDLength  = 6
)

// NewRoomID returns a short uppercase alphanumeric room code drawn from
// crypto/rand. Callers check it against live rooms.
func NewRoomID() (string, error) {
	code := make([]byte, RoomIDLength)
	max := big.NewInt(int64(len(roomIDCharset)))
	for i := range code {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		code[i] = roomIDCharset[num.Int64()]
	}
	return string(code), nil
}

// NormalizeRoomID folds user input onto the canonical room code form.
func NormalizeRoomID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func NewUserID() string {
	return uuid.NewString()
}

// NewConnID identifies one transport connection in the session table.
func NewConnID() string {
	return "conn-" + uuid.NewString()
}
