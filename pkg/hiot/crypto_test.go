package hiot

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyAndIV(t *testing.T) {
	key, iv := DeriveKeyAndIV([]byte(DefaultPassphrase), []byte("12345678"))
	assert.Equal(t, "3b24b02b50dc3e53a4f1692be409b1e1a2f95c029a3d9c861f3ae8024ecc6c55", hex.EncodeToString(key))
	assert.Equal(t, "2188b854a402d352caa443698e63dc20", hex.EncodeToString(iv))

	key2, iv2 := DeriveKeyAndIV([]byte(DefaultPassphrase), []byte("12345678"))
	assert.Equal(t, key, key2, "derivation should be deterministic")
	assert.Equal(t, iv, iv2, "derivation should be deterministic")
}

func TestEncryptWithSalt(t *testing.T) {
	out, err := encryptWithSalt("hello hiot", DefaultPassphrase, []byte("12345678"))
	require.NoError(t, err)
	assert.Equal(t, "U2FsdGVkX18xMjM0NTY3OLxwDCs+jWSm4Jv1f9w1o6g=", out)

	plain, err := Decrypt(out, DefaultPassphrase)
	require.NoError(t, err)
	assert.Equal(t, "hello hiot", plain)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, plaintext := range []string{
		"",
		"a",
		"user@example.com",
		"exactly16bytes!!",
		"비밀번호 with unicode ✓",
		"a much longer password that spans several AES blocks of sixteen bytes",
	} {
		t.Run(plaintext, func(t *testing.T) {
			enc, err := Encrypt(plaintext, DefaultPassphrase)
			require.NoError(t, err)

			raw, err := base64.StdEncoding.DecodeString(enc)
			require.NoError(t, err)
			assert.Equal(t, "Salted__", string(raw[:8]))
			assert.Zero(t, (len(raw)-16)%16, "ciphertext should be block aligned")

			dec, err := Decrypt(enc, DefaultPassphrase)
			require.NoError(t, err)
			assert.Equal(t, plaintext, dec)
		})
	}

	t.Run("Random Salt", func(t *testing.T) {
		a, err := Encrypt("same", DefaultPassphrase)
		require.NoError(t, err)
		b, err := Encrypt("same", DefaultPassphrase)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestDecryptErrors(t *testing.T) {
	t.Run("Wrong Passphrase", func(t *testing.T) {
		enc, err := encryptWithSalt("secret value", "correct-pass", []byte("12345678"))
		require.NoError(t, err)

		_, err = Decrypt(enc, "wrong-pass")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBadPadding))
		assert.True(t, errors.Is(err, ErrAPI))
	})

	t.Run("Missing Header", func(t *testing.T) {
		payload := base64.StdEncoding.EncodeToString([]byte("NotSalt_12345678abcdefghabcdefgh"))
		_, err := Decrypt(payload, DefaultPassphrase)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPayload))
		assert.True(t, errors.Is(err, ErrAPI))
		assert.Contains(t, err.Error(), "invalid salted payload header")
	})

	t.Run("Too Short", func(t *testing.T) {
		payload := base64.StdEncoding.EncodeToString([]byte("Salted__1234"))
		_, err := Decrypt(payload, DefaultPassphrase)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPayload))
		assert.Contains(t, err.Error(), "invalid encrypted payload length")
	})

	t.Run("Not Base64", func(t *testing.T) {
		_, err := Decrypt("not base64!!", DefaultPassphrase)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPayload))
	})

	t.Run("Unaligned Ciphertext", func(t *testing.T) {
		payload := base64.StdEncoding.EncodeToString([]byte("Salted__12345678abc"))
		_, err := Decrypt(payload, DefaultPassphrase)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPayload))
	})
}

func TestPKCS7(t *testing.T) {
	padded := pkcs7Pad([]byte("abc"), 16)
	assert.Len(t, padded, 16)
	assert.Equal(t, byte(13), padded[15])

	full := pkcs7Pad(make([]byte, 16), 16)
	assert.Len(t, full, 32, "aligned input gets a full block of padding")

	out, err := pkcs7Unpad(padded, 16)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))

	bad := append([]byte("abcdefghijklmno"), 0)
	_, err = pkcs7Unpad(bad, 16)
	assert.True(t, errors.Is(err, ErrBadPadding))
}
