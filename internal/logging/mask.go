package logging

import (
	"strings"
	"unicode/utf8"
)

// MaskEmail redacts an address for diagnostic output, keeping the first
// rune of the local part and the whole domain: "alice@x.org" becomes
// "a***@x.org". Values without '@' collapse to "***".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	_, n := utf8.DecodeRuneInString(email)
	return email[:n] + "***@" + email[at+1:]
}
