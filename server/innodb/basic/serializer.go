package basic

import (
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Serializer converts values of type T to and from a fixed number of bytes.
// Encodings of the numeric serializers preserve order under bytes.Compare.
type Serializer[T any] interface {
	FixedSize() int
	Serialize(v T, dst []byte) error
	Deserialize(src []byte) T
}

// Comparator orders keys: negative when a < b, zero when equal.
type Comparator[T any] func(a, b T) int

const signBit64 = uint64(1) << 63

// Int32Serializer 4字节有符号整数
type Int32Serializer struct{}

func (Int32Serializer) FixedSize() int { return 4 }

func (Int32Serializer) Serialize(v int32, dst []byte) error {
	binary.BigEndian.PutUint32(dst, uint32(v)^(1<<31))
	return nil
}

func (Int32Serializer) Deserialize(src []byte) int32 {
	return int32(binary.BigEndian.Uint32(src) ^ (1 << 31))
}

func CompareInt32(a, b int32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Int64Serializer 8字节有符号整数
type Int64Serializer struct{}

func (Int64Serializer) FixedSize() int { return 8 }

func (Int64Serializer) Serialize(v int64, dst []byte) error {
	binary.BigEndian.PutUint64(dst, uint64(v)^signBit64)
	return nil
}

func (Int64Serializer) Deserialize(src []byte) int64 {
	return int64(binary.BigEndian.Uint64(src) ^ signBit64)
}

func CompareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// StringSerializer stores a string in a fixed width slot: a 2 byte length
// followed by the bytes, zero padded.
type StringSerializer struct {
	Size int
}

func NewStringSerializer(maxLen int) StringSerializer {
	return StringSerializer{Size: maxLen + 2}
}

func (s StringSerializer) FixedSize() int { return s.Size }

func (s StringSerializer) Serialize(v string, dst []byte) error {
	if len(v) > s.Size-2 {
		return errors.Wrapf(ErrValueTooLarge, "string of %d bytes exceeds %d", len(v), s.Size-2)
	}
	binary.BigEndian.PutUint16(dst, uint16(len(v)))
	n := copy(dst[2:], v)
	for i := 2 + n; i < s.Size; i++ {
		dst[i] = 0
	}
	return nil
}

func (s StringSerializer) Deserialize(src []byte) string {
	l := int(binary.BigEndian.Uint16(src))
	return string(src[2 : 2+l])
}

func CompareString(a, b string) int {
	return strings.Compare(a, b)
}

// RIDSerializer 2字节cluster + 8字节position
type RIDSerializer struct{}

const RIDSize = 10

func (RIDSerializer) FixedSize() int { return RIDSize }

func (RIDSerializer) Serialize(v RID, dst []byte) error {
	binary.BigEndian.PutUint16(dst, uint16(v.ClusterID)^(1<<15))
	binary.BigEndian.PutUint64(dst[2:], uint64(v.Position)^signBit64)
	return nil
}

func (RIDSerializer) Deserialize(src []byte) RID {
	return RID{
		ClusterID: int16(binary.BigEndian.Uint16(src) ^ (1 << 15)),
		Position:  int64(binary.BigEndian.Uint64(src[2:]) ^ signBit64),
	}
}

// DecimalSerializer stores decimals with a fixed number of fractional
// digits as a scaled int64.
type DecimalSerializer struct {
	Scale int32
}

func (DecimalSerializer) FixedSize() int { return 8 }

func (s DecimalSerializer) Serialize(v decimal.Decimal, dst []byte) error {
	if !v.Equal(v.Round(s.Scale)) {
		return errors.Wrapf(ErrInvalidValue, "decimal %s has more than %d fractional digits", v, s.Scale)
	}
	unscaled := v.Shift(s.Scale).BigInt()
	if !unscaled.IsInt64() {
		return errors.Wrapf(ErrValueTooLarge, "decimal %s overflows scale %d", v, s.Scale)
	}
	binary.BigEndian.PutUint64(dst, uint64(unscaled.Int64())^signBit64)
	return nil
}

func (s DecimalSerializer) Deserialize(src []byte) decimal.Decimal {
	unscaled := int64(binary.BigEndian.Uint64(src) ^ signBit64)
	return decimal.NewFromBigInt(big.NewInt(unscaled), -s.Scale)
}

func CompareDecimal(a, b decimal.Decimal) int {
	return a.Cmp(b)
}
