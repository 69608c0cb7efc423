package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Length limits count characters, not bytes
const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	MaxPasswordLen    = 128
)

// bcryptInputLimit is the number of bytes bcrypt actually consumes
const bcryptInputLimit = 72

var ErrEmptyPassword = errors.New("password cannot be empty")

// WeakPasswordError lists the strength rules a candidate failed.
// Error() stays generic; Failed is for logs only.
type WeakPasswordError struct {
	Failed []string
}

func (e *WeakPasswordError) Error() string {
	return "invalid password"
}

// passwordClasses records which character classes appear in a candidate
type passwordClasses struct {
	upper, lower, digit, symbol bool
}

func classify(password string) passwordClasses {
	var c passwordClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			c.symbol = true
		}
	}
	return c
}

type passwordRule struct {
	name string
	ok   func(pw string, c passwordClasses) bool
}

var strengthRules = []passwordRule{
	{"min_length", func(pw string, _ passwordClasses) bool { return utf8.RuneCountInString(pw) >= MinPasswordLen }},
	{"max_length", func(pw string, _ passwordClasses) bool { return utf8.RuneCountInString(pw) <= MaxPasswordLen }},
	{"uppercase", func(_ string, c passwordClasses) bool { return c.upper }},
	{"lowercase", func(_ string, c passwordClasses) bool { return c.lower }},
	{"digit", func(_ string, c passwordClasses) bool { return c.digit }},
	{"symbol", func(_ string, c passwordClasses) bool { return c.symbol }},
	{"not_common", func(pw string, _ passwordClasses) bool { return !isCommonPassword(pw) }},
}

// denyList holds passwords that satisfy every class rule but appear in breach lists
var denyList = []string{
	"password1!", "password123!", "p@ssw0rd", "p@ssword1", "p@ssw0rd1",
	"qwerty123!", "qwerty1!", "welcome1!", "welcome123!", "letmein1!",
	"admin123!", "changeme1!", "iloveyou1!", "trustno1!", "abc123!@#",
	"summer2024!", "winter2024!", "football1!", "monkey123!", "dragon123!",
}

var commonPasswords = func() map[string]struct{} {
	m := make(map[string]struct{}, len(denyList))
	for _, pw := range denyList {
		m[pw] = struct{}{}
	}
	return m
}()

func isCommonPassword(pw string) bool {
	_, found := commonPasswords[strings.ToLower(pw)]
	return found
}

// ValidatePassword checks password against every strength rule and reports
// all failures at once in a *WeakPasswordError
func ValidatePassword(password string) error {
	classes := classify(password)

	var failed []string
	for _, rule := range strengthRules {
		if !rule.ok(password, classes) {
			failed = append(failed, rule.name)
		}
	}
	if len(failed) > 0 {
		return &WeakPasswordError{Failed: failed}
	}
	return nil
}

// bcryptInput maps passwords longer than bcrypt's input limit to a fixed-size
// digest so that every byte of a long password affects the hash
func bcryptInput(password string) []byte {
	if len(password) <= bcryptInputLimit {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.RawStdEncoding.EncodeToString(sum[:]))
}

// HashPassword hashes password with bcrypt at the given cost.
// Costs outside bcrypt's range fall back to DefaultBcryptCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	hashed, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword reports whether password matches hash. Malformed hashes never match.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password)) == nil
}
