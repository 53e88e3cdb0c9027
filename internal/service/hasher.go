package service

import "golang.org/x/crypto/bcrypt"

// Hasher allows password hashing to be customized (and skipped in tests).
type Hasher interface {
	Generate(password []byte) ([]byte, error)
	Compare(hashedPassword, password []byte) error
}

// DefaultHasher hashes with bcrypt at the default cost.
var DefaultHasher Hasher = bcryptHasher{}

// TestHasher stores passwords verbatim. Only for tests.
var TestHasher Hasher = testHasher{}

type bcryptHasher struct{}

func (bcryptHasher) Generate(password []byte) ([]byte, error) {
	return bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
}

func (bcryptHasher) Compare(hashedPassword, password []byte) error {
	return bcrypt.CompareHashAndPassword(hashedPassword, password)
}

type testHasher struct{}

func (testHasher) Generate(password []byte) ([]byte, error) {
	return password, nil
}

func (testHasher) Compare(hashedPassword, password []byte) error {
	if string(hashedPassword) != string(password) {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return nil
}
