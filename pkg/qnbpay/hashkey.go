package qnbpay

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ErrInvalidPayload is returned when a hash-key bundle cannot be decoded:
// fewer than 3 colon-separated segments, or decrypted plaintext with no '|'
// separator (wrong key, tampered ciphertext, or non-bundle input). This is a
// recoverable validation failure, never a crash condition.
var ErrInvalidPayload = errors.New("qnbpay: invalid hash key payload")

const (
	ivLength   = 16
	saltLength = 4
)

// bundleChars is the alphabet used for random IV and salt strings. Excludes
// ':' so the bundle always splits into exactly 3 segments.
const bundleChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// EncodeHashKey joins the field values with '|' in argument order and
// encrypts them with AES-256-CBC. A fresh random 16-byte IV and 4-byte salt
// are generated per call and never reused, so encoding identical input twice
// yields different bundles. The key is sha256(sha1(appSecret) + salt).
//
// Field order is the entire schema contract: keys are not embedded, only
// values, and decode maps positions back to names. The order must not change
// without versioning the wire format.
func EncodeHashKey(appSecret string, fields ...string) (string, error) {
	plaintext := strings.Join(fields, "|")

	iv, err := randomString(ivLength)
	if err != nil {
		return "", err
	}
	salt, err := randomString(saltLength)
	if err != nil {
		return "", err
	}

	key := deriveKey(appSecret, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(iv)).CryptBlocks(ciphertext, padded)

	bundle := iv + ":" + salt + ":" + base64.StdEncoding.EncodeToString(ciphertext)
	// '/' breaks URL path embedding; substitute for URL safety.
	return strings.ReplaceAll(bundle, "/", "__"), nil
}

// DecodeHashKey reverses EncodeHashKey and returns the ordered field values.
func DecodeHashKey(appSecret, bundle string) ([]string, error) {
	bundle = strings.ReplaceAll(bundle, "__", "/")

	parts := strings.SplitN(bundle, ":", 3)
	if len(parts) < 3 {
		return nil, ErrInvalidPayload
	}
	iv, salt := parts[0], parts[1]
	if len(iv) != ivLength {
		return nil, ErrInvalidPayload
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidPayload
	}

	key := deriveKey(appSecret, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidPayload
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, []byte(iv)).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, ErrInvalidPayload
	}

	decoded := string(plaintext)
	if !strings.Contains(decoded, "|") {
		return nil, ErrInvalidPayload
	}
	return strings.Split(decoded, "|"), nil
}

// PaymentResult is the positional charge-confirmation schema carried in hash
// keys: [status, total, invoice_id, order_id, currency_code].
type PaymentResult struct {
	Status       int
	Total        string
	InvoiceID    string
	OrderID      string
	CurrencyCode string
}

// DecodePaymentResult decodes a charge-confirmation hash key into its named
// fields.
func DecodePaymentResult(appSecret, bundle string) (*PaymentResult, error) {
	fields, err := DecodeHashKey(appSecret, bundle)
	if err != nil {
		return nil, err
	}
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidPayload, len(fields))
	}
	status, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric status", ErrInvalidPayload)
	}
	return &PaymentResult{
		Status:       status,
		Total:        fields[1],
		InvoiceID:    fields[2],
		OrderID:      fields[3],
		CurrencyCode: fields[4],
	}, nil
}

// EncodePaymentResult encodes the charge-confirmation schema. Field order is
// the wire-format contract.
func EncodePaymentResult(appSecret string, r *PaymentResult) (string, error) {
	return EncodeHashKey(appSecret,
		strconv.Itoa(r.Status), r.Total, r.InvoiceID, r.OrderID, r.CurrencyCode)
}

// deriveKey derives the 256-bit cipher key from the app secret and salt.
func deriveKey(appSecret, salt string) []byte {
	password := sha1.Sum([]byte(appSecret))
	sum := sha256.Sum256([]byte(hex.EncodeToString(password[:]) + salt))
	return sum[:]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padding)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padding)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(bundleChars)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = bundleChars[idx.Int64()]
	}
	return string(b), nil
}
