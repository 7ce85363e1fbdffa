package crypto

import (
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrDecryptFailed = errors.New("decrypt failed")

// Cipher 跨上下文传输载荷的加解密接口，
// 仅用于变更事件字段表的序列化，不参与本地读取。
type Cipher interface {
	Encrypt(value any) (string, error)
	Decrypt(text string) (any, error)
}

// NewNopCipher 创建不加密的 Cipher，仅做 msgpack + base64 编码
func NewNopCipher() *NopCipher {
	return &NopCipher{}
}

type NopCipher struct{}

func (c *NopCipher) Encrypt(value any) (string, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return "", errors.WithMessage(err, "msgpack.Marshal failed")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (c *NopCipher) Decrypt(text string) (any, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, errors.WithMessage(ErrDecryptFailed, err.Error())
	}
	var value any
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return nil, errors.WithMessage(ErrDecryptFailed, err.Error())
	}
	return value, nil
}
