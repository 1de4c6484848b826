package locker

import "math/rand"

const tokenLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateToken builds a 20-character client token. No two consecutive
// characters are ever equal, which keeps tokens visually distinct in the
// server's log and trivially detectable when truncated.
func GenerateToken() string {
	buf := make([]byte, 0, 20)
	var last byte
	for len(buf) < 20 {
		c := tokenLetters[rand.Intn(len(tokenLetters))]
		if len(buf) > 0 && c == last {
			continue
		}
		buf = append(buf, c)
		last = c
	}
	return string(buf)
}
