package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// AESCipherOptions AES-GCM 加密选项
type AESCipherOptions struct {
	// Key 密钥材料，经 SHA-256 派生为 256 位密钥
	Key string `cfg:"key" validate:"required"`
}

// AESCipher AES-GCM 实现，密文为 base64(nonce + sealed(msgpack(value)))
type AESCipher struct {
	aead cipher.AEAD
}

func NewAESCipherWithOptions(options *AESCipherOptions) (*AESCipher, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if options.Key == "" {
		return nil, errors.New("key is empty")
	}

	key := sha256.Sum256([]byte(options.Key))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.WithMessage(err, "aes.NewCipher failed")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.WithMessage(err, "cipher.NewGCM failed")
	}

	return &AESCipher{aead: aead}, nil
}

func (c *AESCipher) Encrypt(value any) (string, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return "", errors.WithMessage(err, "msgpack.Marshal failed")
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.WithMessage(err, "rand.Read failed")
	}

	sealed := c.aead.Seal(nonce, nonce, data, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AESCipher) Decrypt(text string) (any, error) {
	sealed, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, errors.WithMessage(ErrDecryptFailed, err.Error())
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, errors.WithMessage(ErrDecryptFailed, "ciphertext too short")
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	data, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.WithMessage(ErrDecryptFailed, err.Error())
	}

	var value any
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return nil, errors.WithMessage(ErrDecryptFailed, err.Error())
	}
	return value, nil
}
