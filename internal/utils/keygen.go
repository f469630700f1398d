package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const alnumChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// WebhookSecretLength is the length of the generated per-install webhook
// secret embedded in the callback URL.
const WebhookSecretLength = 12

// GenerateWebhookSecret generates a random alphanumeric webhook secret.
// Generated once per installation and persisted, so it is constant across
// restarts.
func GenerateWebhookSecret() (string, error) {
	return randomAlnum(WebhookSecretLength)
}

// randomAlnum returns a random alphanumeric string of length n.
func randomAlnum(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alnumChars)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alnumChars[idx.Int64()]
	}
	return string(b), nil
}

// RandomOrderNumber returns a random 10-digit integer used as the
// customer-facing disambiguator in invoice ids.
func RandomOrderNumber() (int64, error) {
	// 10 digits: 1000000000 .. 9999999999
	const span = int64(9000000000)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, fmt.Errorf("failed to generate order number: %w", err)
	}
	return n.Int64() + 1000000000, nil
}
