package hiot

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"
)

// DefaultPassphrase is the passphrase the HT HomeService web client uses to
// encrypt login fields.
const DefaultPassphrase = "hTsEcret"

const (
	saltedPrefix = "Salted__"
	saltSize     = 8
	keySize      = 32
)

// DeriveKeyAndIV derives an AES-256 key and CBC IV from a passphrase and salt
// the way OpenSSL's EVP_BytesToKey does with MD5 and a single iteration.
func DeriveKeyAndIV(passphrase, salt []byte) (key, iv []byte) {
	d1 := md5Sum(passphrase, salt)
	d2 := md5Sum(d1, passphrase, salt)
	d3 := md5Sum(d2, passphrase, salt)

	key = make([]byte, 0, keySize)
	key = append(key, d1...)
	key = append(key, d2...)
	return key, d3
}

func md5Sum(parts ...[]byte) []byte {
	h := md5.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Encrypt encrypts plaintext with AES-256-CBC using a random salt and returns
// the base64 encoded OpenSSL container: "Salted__" || salt || ciphertext.
func Encrypt(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", apiError("failed to generate salt", err)
	}
	return encryptWithSalt(plaintext, passphrase, salt)
}

func encryptWithSalt(plaintext, passphrase string, salt []byte) (string, error) {
	key, iv := DeriveKeyAndIV([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apiError("failed to create cipher", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(saltedPrefix)+saltSize+len(padded))
	copy(out, saltedPrefix)
	copy(out[len(saltedPrefix):], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(saltedPrefix)+saltSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. A wrong passphrase surfaces as ErrBadPadding.
func Decrypt(payload, passphrase string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", &Error{Kind: ErrInvalidPayload, Msg: "invalid base64 payload", Err: err}
	}
	if len(decoded) < len(saltedPrefix)+saltSize {
		return "", &Error{Kind: ErrInvalidPayload, Msg: "invalid encrypted payload length"}
	}
	if !bytes.HasPrefix(decoded, []byte(saltedPrefix)) {
		return "", &Error{Kind: ErrInvalidPayload, Msg: "invalid salted payload header"}
	}

	salt := decoded[len(saltedPrefix) : len(saltedPrefix)+saltSize]
	ciphertext := decoded[len(saltedPrefix)+saltSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &Error{Kind: ErrInvalidPayload, Msg: fmt.Sprintf("ciphertext length %d is not a multiple of the block size", len(ciphertext))}
	}

	key, iv := DeriveKeyAndIV([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apiError("failed to create cipher", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", &Error{Kind: ErrInvalidPayload, Msg: "decrypted payload is not valid utf-8"}
	}
	return string(plaintext), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, &Error{Kind: ErrBadPadding, Msg: "padding is incorrect"}
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, &Error{Kind: ErrBadPadding, Msg: "padding is incorrect"}
		}
	}
	return b[:len(b)-n], nil
}
