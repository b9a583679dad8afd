package socialauth

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// UnusablePassword marks an account that cannot log in with a local password.
// Any hash starting with it is unusable.
const UnusablePassword = "!"

const (
	TextCodeEmptyPassword = "SOCIAL_EMPTY_PASSWORD"
	TextCodeInvalidCreds  = "SOCIAL_INVALID_CREDENTIALS"
)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a password does not match.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost())
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if !IsUsablePasswordHash(hash) {
		return ErrMismatchedHashAndPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// IsUsablePasswordHash reports whether hash can authenticate anyone.
func IsUsablePasswordHash(hash string) bool {
	return hash != "" && !strings.HasPrefix(hash, UnusablePassword)
}
