package randomuser

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "!@#$%^&*"
)

const minPasswordLength = 8

// GeneratePassword returns a random password containing at least one
// lowercase letter, one uppercase letter, one digit, and one symbol.
// Ambiguous characters (l, I, O, 0, 1) are excluded.
func GeneratePassword(length int) (string, error) {
	if length < minPasswordLength {
		return "", errors.New("password length below minimum")
	}

	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	all := lowerChars + upperChars + digitChars + symbolChars

	chars := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}
	for len(chars) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		chars = append(chars, c)
	}

	if err := shuffle(chars); err != nil {
		return "", err
	}
	return string(chars), nil
}

func randomChar(set string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("read random bytes: %w", err)
	}
	return set[idx.Int64()], nil
}

func shuffle(chars []byte) error {
	for i := len(chars) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("read random bytes: %w", err)
		}
		chars[i], chars[j.Int64()] = chars[j.Int64()], chars[i]
	}
	return nil
}
