package passwordless

import "crypto/rand"

// keyAlphabet holds the characters of entry keys. They need no escaping in
// URLs.
const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateKey returns a random key of n characters from keyAlphabet.
// Random bytes beyond the largest multiple of len(keyAlphabet) are dropped
// so all characters are equally likely.
func generateKey(n int) (string, error) {
	const limit = 256 - 256%len(keyAlphabet)

	key := make([]byte, 0, n)
	buf := make([]byte, n+n/8+8)
	for len(key) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			key = append(key, keyAlphabet[int(b)%len(keyAlphabet)])
			if len(key) == n {
				break
			}
		}
	}

	return string(key), nil
}
