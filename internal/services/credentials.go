package services

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// CredentialSource issues the secrets of a new room.
type CredentialSource interface {
	RoomID() string
	LinkToken() string
	PIN() string
	AccessCode() string
}

// RandomCredentials draws every credential from crypto/rand.
type RandomCredentials struct{}

func (RandomCredentials) RoomID() string {
	return uuid.NewString()
}

func (RandomCredentials) LinkToken() string {
	return rand.Text()
}

func (RandomCredentials) PIN() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return fmt.Sprintf("%04d", n.Int64())
}

func (RandomCredentials) AccessCode() string {
	return rand.Text()
}

// ValidPIN reports whether pin is exactly four ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
