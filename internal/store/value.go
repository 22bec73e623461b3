package store

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Value tags keep tokens of different JSON types apart, so false never
// equals "f" and null never equals "".
const (
	tagNull   = 0x00
	tagBool   = 0x01
	tagNumber = 0x02
	tagString = 0x03
	tagJSON   = 0x04
)

// token returns the canonical byte form of a JSON value. Two values are
// equal for filtering purposes when their tokens are equal. A missing
// field is treated as null.
func token(r gjson.Result) []byte {
	switch {
	case !r.Exists() || r.Type == gjson.Null:
		return []byte{tagNull}
	case r.Type == gjson.False:
		return []byte{tagBool, 'f'}
	case r.Type == gjson.True:
		return []byte{tagBool, 't'}
	case r.Type == gjson.Number:
		return append([]byte{tagNumber}, numberToken(r)...)
	case r.Type == gjson.String:
		return append([]byte{tagString}, r.Str...)
	default:
		return append([]byte{tagJSON}, r.Raw...)
	}
}

// numberToken renders a JSON number. Integers are written from their
// literal, since float64 cannot tell int64 values above 2^53 apart.
// Integral floats in the exact range share the integer form.
func numberToken(r gjson.Result) []byte {
	if i, err := strconv.ParseInt(r.Raw, 10, 64); err == nil {
		return strconv.AppendInt(nil, i, 10)
	}

	if r.Num == math.Trunc(r.Num) && math.Abs(r.Num) < 1<<53 {
		return strconv.AppendInt(nil, int64(r.Num), 10)
	}

	return strconv.AppendFloat(nil, r.Num, 'g', -1, 64)
}

// encodeValue converts a Go filter value into the gjson form records are
// compared against. It goes through encoding/json so values compare the
// same way the records containing them were marshalled.
func encodeValue(v any) (gjson.Result, error) {
	if v == nil {
		return gjson.Parse("null"), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encoding filter value: %w", err)
	}

	return gjson.ParseBytes(data), nil
}

func stringValue(s string) gjson.Result {
	data, _ := json.Marshal(s)
	return gjson.ParseBytes(data)
}

// indexPrefix is the key prefix shared by all index entries for one value.
// The token is length-prefixed so a string value can never run into the
// record id that follows it.
func indexPrefix(tok []byte) []byte {
	buf := make([]byte, binary.MaxVarintLen64, binary.MaxVarintLen64+len(tok))
	n := binary.PutUvarint(buf, uint64(len(tok)))

	return append(buf[:n], tok...)
}

func indexKey(tok []byte, id string) []byte {
	return append(indexPrefix(tok), id...)
}

// compareValues orders two field values of the given type. Null sorts
// before everything else.
func compareValues(ft FieldType, a, b gjson.Result) int {
	aNull := !a.Exists() || a.Type == gjson.Null
	bNull := !b.Exists() || b.Type == gjson.Null

	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return -1
	case bNull:
		return 1
	}

	switch ft {
	case Int:
		return cmp.Compare(a.Int(), b.Int())
	case Float:
		return compareFloat(a.Num, b.Num)
	case Bool:
		return compareBool(a.Bool(), b.Bool())
	case Time:
		at, aerr := time.Parse(time.RFC3339Nano, a.Str)
		bt, berr := time.Parse(time.RFC3339Nano, b.Str)

		if aerr == nil && berr == nil {
			return at.Compare(bt)
		}

		return strings.Compare(a.Str, b.Str)
	case String:
		return strings.Compare(a.Str, b.Str)
	default:
		return bytes.Compare([]byte(a.Raw), []byte(b.Raw))
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}

	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}

	return 1
}
