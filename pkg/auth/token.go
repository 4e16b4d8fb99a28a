package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// TokenPrefix marks every bearer token issued by roomdesk.
	TokenPrefix = "rd_"
	// TokenLength is the number of random bytes behind a token.
	TokenLength = 32
	// displayChars is how much of the encoded body is kept for display.
	displayChars = 8
)

var errMalformedToken = errors.New("malformed token")

// MintedToken is a freshly issued bearer token. Plain is returned to the
// caller once; only Hash and Display are persisted.
type MintedToken struct {
	Plain   string
	Hash    string
	Display string
}

// MintToken draws a new rd_<base64url> token.
func MintToken() (MintedToken, error) {
	var raw [TokenLength]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return MintedToken{}, fmt.Errorf("failed to read random token bytes: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(raw[:])
	plain := TokenPrefix + body
	return MintedToken{
		Plain:   plain,
		Hash:    HashToken(plain),
		Display: TokenPrefix + body[:displayChars],
	}, nil
}

// HashToken is the lookup key stored for a plain token.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// CheckTokenFormat rejects strings that could never have been minted, so
// they are refused without a store lookup.
func CheckTokenFormat(plain string) error {
	body, ok := strings.CutPrefix(plain, TokenPrefix)
	if !ok || body == "" {
		return errMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformedToken, err)
	}
	if len(raw) != TokenLength {
		return fmt.Errorf("%w: %d random bytes", errMalformedToken, len(raw))
	}
	return nil
}
