package crypto

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNopCipher(t *testing.T) {
	Convey("NopCipher", t, func() {
		cipher := NewNopCipher()

		Convey("编码解码往返", func() {
			text, err := cipher.Encrypt(map[string]any{"name": "Rec1", "score": int64(2)})
			So(err, ShouldBeNil)

			value, err := cipher.Decrypt(text)
			So(err, ShouldBeNil)
			fields, ok := value.(map[string]any)
			So(ok, ShouldBeTrue)
			So(fields["name"], ShouldEqual, "Rec1")
		})

		Convey("非法输入返回 ErrDecryptFailed", func() {
			_, err := cipher.Decrypt("@@@not-base64@@@")
			So(errors.Is(err, ErrDecryptFailed), ShouldBeTrue)
		})
	})
}

func TestAESCipher(t *testing.T) {
	Convey("AESCipher", t, func() {
		cipher, err := NewAESCipherWithOptions(&AESCipherOptions{Key: "test-secret"})
		So(err, ShouldBeNil)

		Convey("加密解密往返", func() {
			text, err := cipher.Encrypt(map[string]any{"score": int64(42)})
			So(err, ShouldBeNil)

			value, err := cipher.Decrypt(text)
			So(err, ShouldBeNil)
			fields, ok := value.(map[string]any)
			So(ok, ShouldBeTrue)
			So(fields["score"], ShouldEqual, 42)
		})

		Convey("同一明文两次加密产生不同密文", func() {
			first, err := cipher.Encrypt("hello")
			So(err, ShouldBeNil)
			second, err := cipher.Encrypt("hello")
			So(err, ShouldBeNil)
			So(first, ShouldNotEqual, second)
		})

		Convey("错误密钥解密失败", func() {
			other, err := NewAESCipherWithOptions(&AESCipherOptions{Key: "another-secret"})
			So(err, ShouldBeNil)

			text, err := cipher.Encrypt("hello")
			So(err, ShouldBeNil)
			_, err = other.Decrypt(text)
			So(errors.Is(err, ErrDecryptFailed), ShouldBeTrue)
		})
	})
}
