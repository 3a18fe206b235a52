package tokencipher

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New(testKey)
	require.NoError(t, err)
	return c
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	for _, msg := range []string{
		"ya29.a0AfH6SMBx-access-token",
		"1//0gRefreshToken",
		"hola mundo ✓ — secreto",
		"",
		strings.Repeat("x", 4096),
	} {
		env, err := c.Encrypt(msg)
		require.NoError(t, err)
		pt, err := c.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, msg, pt)
	}
}

func TestEncrypt_EnvelopeLayout(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	env, err := c.Encrypt("top secret")
	require.NoError(t, err)

	parts := strings.Split(env, "|")
	require.Len(t, parts, 4)
	assert.Equal(t, Version, parts[0])

	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	assert.Len(t, nonce, nonceSizeGCM)

	tag, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	assert.Len(t, tag, tagSizeGCM)

	ct, err := base64.StdEncoding.DecodeString(parts[3])
	require.NoError(t, err)
	assert.Len(t, ct, len("top secret"))
}

func TestEncrypt_NonceDiffersPerCall(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	a, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := c.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, strings.Split(a, "|")[1], strings.Split(b, "|")[1])
	// distinto nonce => distinto ciphertext bajo la misma clave
	assert.NotEqual(t, strings.Split(a, "|")[3], strings.Split(b, "|")[3])
}

func flipBit(t *testing.T, env string, part, bit int) string {
	t.Helper()
	parts := strings.Split(env, "|")
	bs, err := base64.StdEncoding.DecodeString(parts[part])
	require.NoError(t, err)
	require.NotEmpty(t, bs)
	bs[(bit/8)%len(bs)] ^= 1 << (bit % 8)
	parts[part] = base64.StdEncoding.EncodeToString(bs)
	return strings.Join(parts, "|")
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	env, err := c.Encrypt("top secret refresh token")
	require.NoError(t, err)

	// cada bit del ciphertext (parte 3) y del tag (parte 2)
	for _, part := range []int{2, 3} {
		bits := len(strings.Split(env, "|")[part]) * 6
		for bit := 0; bit < bits; bit += 7 {
			corrupted := flipBit(t, env, part, bit)
			pt, err := c.Decrypt(corrupted)
			require.Error(t, err, "part=%d bit=%d", part, bit)
			assert.True(t, errors.Is(err, ErrCrypto))
			assert.Empty(t, pt)
		}
	}

	// nonce alterado tampoco autentica
	_, err = c.Decrypt(flipBit(t, env, 1, 0))
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestDecrypt_RejectsMalformedEnvelopes(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)

	env, err := c.Encrypt("abc")
	require.NoError(t, err)
	parts := strings.Split(env, "|")

	cases := map[string]string{
		"empty":           "",
		"two parts":       parts[1] + "|" + parts[3],
		"legacy 3 parts":  parts[1] + "|" + parts[2] + "|" + parts[3],
		"extra part":      env + "|AAAA",
		"unknown version": "v9|" + strings.Join(parts[1:], "|"),
		"bad base64":      "v1|!!!|" + parts[2] + "|" + parts[3],
		"short nonce":     "v1|" + base64.StdEncoding.EncodeToString([]byte("short")) + "|" + parts[2] + "|" + parts[3],
		"short tag":       "v1|" + parts[1] + "|" + base64.StdEncoding.EncodeToString([]byte("tag")) + "|" + parts[3],
	}
	for name, in := range cases {
		_, err := c.Decrypt(in)
		var cerr *CryptoError
		require.ErrorAs(t, err, &cerr, name)
		assert.ErrorIs(t, err, ErrCrypto, name)
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)
	other, err := New(strings.Repeat("ab", 32))
	require.NoError(t, err)

	env, err := c.Encrypt("secret")
	require.NoError(t, err)
	_, err = other.Decrypt(env)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestNew_RejectsBadKeys(t *testing.T) {
	t.Parallel()
	for _, k := range []string{
		"",
		"   ",
		testKey[:62],
		testKey + "00",
		strings.Repeat("zz", 32),
	} {
		_, err := New(k)
		assert.ErrorIs(t, err, ErrInvalidKey, "key=%q", k)
	}
}

func TestFingerprint_DoesNotLeakCiphertext(t *testing.T) {
	t.Parallel()
	c := newTestCipher(t)
	env, err := c.Encrypt("secret")
	require.NoError(t, err)

	fp := Fingerprint(env)
	assert.True(t, strings.HasPrefix(fp, "v1 len="))
	assert.NotContains(t, fp, strings.Split(env, "|")[3])
	assert.Equal(t, "len=3 malformed", Fingerprint("abc"))
}

func TestGenerateKey(t *testing.T) {
	t.Parallel()
	k, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, k, 64)
	_, err = New(k)
	assert.NoError(t, err)
}
