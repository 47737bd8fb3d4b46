package user

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	badgeSalt     = []byte("academia.core.user.badge")
	badgeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

	errInvalidBadge = errors.New("invalid badge")
)

// MakeBadgeToken returns the signed QR payload printed on a learner's badge.
// The payload carries the matricule, so a tampered badge can never resolve to another learner.
func MakeBadgeToken(usr User, secretKey string) (string, error) {
	if usr.Matricule == "" {
		return "", errInvalidBadge
	}
	mB32 := badgeEncoding.EncodeToString([]byte(usr.Matricule))
	sig, err := signBadge(usr.Matricule, secretKey)
	if err != nil {
		return "", err
	}
	return mB32 + "." + sig, nil
}

// IsBadgeToken reports whether identifier looks like a badge payload rather than a plain matricule or ID.
func IsBadgeToken(identifier string) bool {
	return strings.Count(identifier, ".") == 1
}

// VerifyBadgeToken checks the badge signature and returns the matricule it carries.
func VerifyBadgeToken(token, secretKey string) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", errInvalidBadge
	}
	data, err := badgeEncoding.DecodeString(parts[0])
	if err != nil {
		return "", errInvalidBadge
	}
	matricule := string(data)

	// check that the badge has not been tampered with
	sig, err := signBadge(matricule, secretKey)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(sig), []byte(parts[1])) == 0 {
		return "", errInvalidBadge
	}
	return matricule, nil
}

func signBadge(matricule, secretKey string) (string, error) {
	key := sha256.Sum256(append(badgeSalt, secretKey...))
	h := hmac.New(sha256.New, key[:])
	if _, err := h.Write([]byte(matricule)); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}
