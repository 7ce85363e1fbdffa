package store

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEncodeSortable(t *testing.T) {
	Convey("EncodeSortable", t, func() {
		Convey("数值编码保序", func() {
			values := []any{-1000.5, -3, 0, 1, 2.5, 42, 99999}
			var previous []byte
			for _, v := range values {
				encoded, err := EncodeSortable(v)
				So(err, ShouldBeNil)
				if previous != nil {
					So(bytes.Compare(previous, encoded), ShouldEqual, -1)
				}
				previous = encoded
			}
		})

		Convey("整数与浮点数编码一致", func() {
			a, err := EncodeSortable(3)
			So(err, ShouldBeNil)
			b, err := EncodeSortable(3.0)
			So(err, ShouldBeNil)
			So(bytes.Equal(a, b), ShouldBeTrue)
		})

		Convey("字符串编码保序", func() {
			a, _ := EncodeSortable("apple")
			b, _ := EncodeSortable("banana")
			c, _ := EncodeSortable("bananas")
			So(bytes.Compare(a, b), ShouldEqual, -1)
			So(bytes.Compare(b, c), ShouldEqual, -1)
		})

		Convey("含零字节的字节序列可安全编码", func() {
			a, err := EncodeSortable([]byte{0x01, 0x00})
			So(err, ShouldBeNil)
			b, err := EncodeSortable([]byte{0x01, 0x00, 0x02})
			So(err, ShouldBeNil)
			So(bytes.Compare(a, b), ShouldEqual, -1)
		})

		Convey("时间编码保序", func() {
			earlier, _ := EncodeSortable(time.Unix(100, 0))
			later, _ := EncodeSortable(time.Unix(200, 0))
			So(bytes.Compare(earlier, later), ShouldEqual, -1)
		})

		Convey("类型标签决定跨类型顺序", func() {
			null, _ := EncodeSortable(nil)
			number, _ := EncodeSortable(1e18)
			moment, _ := EncodeSortable(time.Unix(0, 0))
			text, _ := EncodeSortable("")
			raw, _ := EncodeSortable([]byte{})
			So(bytes.Compare(null, number), ShouldEqual, -1)
			So(bytes.Compare(number, moment), ShouldEqual, -1)
			So(bytes.Compare(moment, text), ShouldEqual, -1)
			So(bytes.Compare(text, raw), ShouldEqual, -1)
		})

		Convey("不支持的类型返回错误", func() {
			_, err := EncodeSortable(map[string]any{"a": 1})
			So(errors.Is(err, ErrUnsupportedValue), ShouldBeTrue)
		})
	})
}

func TestIndexSafe(t *testing.T) {
	Convey("IndexSafe", t, func() {
		Convey("索引安全类型", func() {
			So(IndexSafe(1), ShouldBeTrue)
			So(IndexSafe("a"), ShouldBeTrue)
			So(IndexSafe(time.Now()), ShouldBeTrue)
			So(IndexSafe([]byte{1}), ShouldBeTrue)
			So(IndexSafe([]any{1, "a"}), ShouldBeTrue)
		})

		Convey("非索引安全类型", func() {
			So(IndexSafe(nil), ShouldBeFalse)
			So(IndexSafe(map[string]any{}), ShouldBeFalse)
			So(IndexSafe([]any{}), ShouldBeFalse)
			So(IndexSafe([]any{1, map[string]any{}}), ShouldBeFalse)
		})
	})
}
