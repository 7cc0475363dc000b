package nodeid

import (
	"crypto/rand"
	"regexp"
)

// Node ids are 12-character alphanumeric strings. Externally supplied ids
// (optimistic client ids included) must match the same shape.
const Length = 12

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var pattern = regexp.MustCompile(`^[A-Za-z0-9]{12}$`)

func Generate() string {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand on supported platforms does not fail; if it somehow
		// does there is nothing sensible to recover with.
		panic(err)
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf)
}

func Valid(id string) bool {
	return pattern.MatchString(id)
}
