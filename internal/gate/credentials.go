package gate

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const basicScheme = "Basic "

// ParseBasic decodes "Basic base64(user:pass)". The payload is Latin-1, one
// byte per character. The password is everything after the first colon.
func ParseBasic(header string) (username, password string, ok bool) {
	if len(header) < len(basicScheme) || !strings.EqualFold(header[:len(basicScheme)], basicScheme) {
		return "", "", false
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(basicScheme):]))
	if err != nil {
		return "", "", false
	}

	return strings.Cut(latin1(raw), ":")
}

func latin1(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		b.WriteRune(rune(c))
	}
	return b.String()
}

func (g *Gate) credentialsMatch(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.cfg.Username)) == 1

	var passOK bool
	if len(g.cfg.PasswordHash) > 0 {
		passOK = bcrypt.CompareHashAndPassword(g.cfg.PasswordHash, []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(g.cfg.Password)) == 1
	}

	return userOK && passOK
}
