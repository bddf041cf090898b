package utils

import "golang.org/x/crypto/bcrypt"

// AccessCodeCost is the bcrypt cost used for access codes.
var AccessCodeCost = bcrypt.DefaultCost

func HashAccessCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), AccessCodeCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckAccessCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
