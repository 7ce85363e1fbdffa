package store

import (
	"bytes"
	"encoding/binary"
	"math"
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// sortable 编码的类型标签，标签序决定不同类型之间的排序
const (
	tagNull   byte = 0x01
	tagNumber byte = 0x02
	tagTime   byte = 0x03
	tagString byte = 0x04
	tagBytes  byte = 0x05
)

// EncodeSortable 将索引值编码为保序字节序列，
// 任意两个编码结果的字节序与原始值的逻辑序一致。
// 支持的类型：数值、字符串、时间、字节序列，其他类型返回 ErrUnsupportedValue。
func EncodeSortable(v any) ([]byte, error) {
	if v == nil {
		return []byte{tagNull}, nil
	}

	switch val := v.(type) {
	case int:
		return encodeNumber(float64(val)), nil
	case int8:
		return encodeNumber(float64(val)), nil
	case int16:
		return encodeNumber(float64(val)), nil
	case int32:
		return encodeNumber(float64(val)), nil
	case int64:
		return encodeNumber(float64(val)), nil
	case uint:
		return encodeNumber(float64(val)), nil
	case uint8:
		return encodeNumber(float64(val)), nil
	case uint16:
		return encodeNumber(float64(val)), nil
	case uint32:
		return encodeNumber(float64(val)), nil
	case uint64:
		return encodeNumber(float64(val)), nil
	case float32:
		return encodeNumber(float64(val)), nil
	case float64:
		return encodeNumber(val), nil
	case time.Time:
		return encodeTime(val), nil
	case string:
		return encodeTerminated(tagString, []byte(val)), nil
	case []byte:
		return encodeTerminated(tagBytes, val), nil
	}

	return nil, errors.WithMessagef(ErrUnsupportedValue, "type %T", v)
}

// encodeNumber 浮点数保序编码：符号位翻转后按大端序输出
func encodeNumber(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 9)
	buf[0] = tagNumber
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 9)
	buf[0] = tagTime
	binary.BigEndian.PutUint64(buf[1:], uint64(t.UnixNano())^(1<<63))
	return buf
}

// encodeTerminated 变长值编码：0x00 转义为 0x00 0xFF，以 0x00 0x00 结尾，
// 保证编码后的前缀关系与原始值一致，且可以安全地与主键拼接为索引键。
func encodeTerminated(tag byte, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+3)
	buf = append(buf, tag)
	for _, b := range payload {
		if b == 0x00 {
			buf = append(buf, 0x00, 0xFF)
		} else {
			buf = append(buf, b)
		}
	}
	buf = append(buf, 0x00, 0x00)
	return buf
}

func compareEncoded(a, b []byte) int {
	return bytes.Compare(a, b)
}

// IndexSafe 判断值是否属于索引安全类型（数值、字符串、时间、字节序列或其切片）
func IndexSafe(v any) bool {
	if v == nil {
		return false
	}
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, string, time.Time, []byte:
		return true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if !IndexSafe(rv.Index(i).Interface()) {
				return false
			}
		}
		return rv.Len() > 0
	}
	return false
}

// toAnySlice 将任意切片转换为 []any
func toAnySlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	result := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		result[i] = rv.Index(i).Interface()
	}
	return result, true
}
