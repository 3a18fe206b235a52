// Package tokencipher cifra tokens OAuth (access/refresh) en reposo con AES-256-GCM.
//
// Formato del envelope:
//
//	v1|base64(nonce)|base64(tag)|base64(ciphertext)
//
// Cada componente se decodifica por separado. El prefijo de versión permite
// cambiar de algoritmo sin migrar los registros existentes.
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Version es el identificador de algoritmo del envelope (AES-256-GCM, nonce 96 bits).
	Version = "v1"

	sep          = "|"
	nonceSizeGCM = 12
	tagSizeGCM   = 16
	keyLength    = 32 // AES-256
	keyHexLength = keyLength * 2
)

var (
	// ErrCrypto es el sentinel con el que matchean todos los *CryptoError.
	ErrCrypto = errors.New("crypto error")

	// ErrInvalidKey indica que la clave maestra falta o está malformada.
	ErrInvalidKey = errors.New("invalid encryption key")
)

// CryptoError describe una falla de cifrado/descifrado (envelope malformado o
// tag inválido). Nunca se debe usar para "caer" a texto plano.
type CryptoError struct {
	Op     string
	Reason string
	Err    error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tokencipher %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("tokencipher %s: %s", e.Op, e.Reason)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// Is permite errors.Is(err, ErrCrypto).
func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }

// Cipher es seguro para uso concurrente: cipher.AEAD no guarda estado entre llamadas.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// New construye el Cipher a partir de una clave de 64 caracteres hex (32 bytes).
// Se llama una sola vez al arrancar; un error acá es fatal.
func New(hexKey string) (*Cipher, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, fmt.Errorf("%w: missing key (generate one with: tubelink keys gen)", ErrInvalidKey)
	}
	if len(hexKey) != keyHexLength {
		return nil, fmt.Errorf("%w: expected %d hex chars, got %d", ErrInvalidKey, keyHexLength, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return newWithKey(key)
}

func newWithKey(key []byte) (*Cipher, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, keyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSizeGCM)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt cifra plainText con un nonce aleatorio nuevo (el mismo que se pasa a Seal).
func (c *Cipher) Encrypt(plainText string) (string, error) {
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", &CryptoError{Op: "encrypt", Reason: "nonce random", Err: err}
	}

	// Seal devuelve ciphertext||tag
	sealed := c.aead.Seal(nil, nonce, []byte(plainText), nil)
	ct, tag := sealed[:len(sealed)-tagSizeGCM], sealed[len(sealed)-tagSizeGCM:]

	return strings.Join([]string{
		Version,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ct),
	}, sep), nil
}

// Decrypt verifica el tag y devuelve el texto plano.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, sep)
	if len(parts) != 4 {
		return "", &CryptoError{Op: "decrypt", Reason: "invalid format: expected v1|nonce|tag|ciphertext"}
	}
	if parts[0] != Version {
		return "", &CryptoError{Op: "decrypt", Reason: fmt.Sprintf("unsupported envelope version %q", parts[0])}
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Reason: "decode nonce", Err: err}
	}
	if len(nonce) != nonceSizeGCM {
		return "", &CryptoError{Op: "decrypt", Reason: fmt.Sprintf("invalid nonce: expected %d bytes, got %d", nonceSizeGCM, len(nonce))}
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Reason: "decode tag", Err: err}
	}
	if len(tag) != tagSizeGCM {
		return "", &CryptoError{Op: "decrypt", Reason: fmt.Sprintf("invalid tag: expected %d bytes, got %d", tagSizeGCM, len(tag))}
	}
	ct, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Reason: "decode ciphertext", Err: err}
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	pt, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Reason: "gcm auth failed", Err: err}
	}
	return string(pt), nil
}

// Fingerprint devuelve una huella no secreta del envelope para logs:
// largo total y los primeros caracteres del nonce.
func Fingerprint(envelope string) string {
	parts := strings.Split(envelope, sep)
	if len(parts) != 4 {
		return fmt.Sprintf("len=%d malformed", len(envelope))
	}
	n := parts[1]
	if len(n) > 8 {
		n = n[:8]
	}
	return fmt.Sprintf("%s len=%d nonce=%s", parts[0], len(envelope), n)
}

// GenerateKey genera una clave nueva en hex (64 chars) lista para security.encryption_key.
func GenerateKey() (string, error) {
	k := make([]byte, keyLength)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", err
	}
	return hex.EncodeToString(k), nil
}
