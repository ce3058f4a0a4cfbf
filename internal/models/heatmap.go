package models

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// KeyCount is one row of the key_counts table.
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// HeatmapRecord carries the new color and count of a single key region.
type HeatmapRecord struct {
	ID    string `json:"id" msgpack:"id"`
	Fill  string `json:"fill" msgpack:"fill"`
	Count Count  `json:"count" msgpack:"count"`
}

// Count is the usage count of a record in its textual form.
// The wire format allows either a number or a string, so decoding accepts both
// and encoding emits a number whenever the value is an integer.
type Count string

// CountOf converts an integer count.
func CountOf(n int) Count {
	return Count(strconv.Itoa(n))
}

// Int returns the numeric value of the count, if it has one.
func (c Count) Int() (int, bool) {
	n, err := strconv.Atoi(string(c))
	return n, err == nil
}

func (c Count) String() string {
	return string(c)
}

// MarshalJSON implements json.Marshaler.
func (c Count) MarshalJSON() ([]byte, error) {
	if n, ok := c.Int(); ok {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Count) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Count(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Count(n.String())
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (c Count) EncodeMsgpack(enc *msgpack.Encoder) error {
	if n, ok := c.Int(); ok {
		return enc.EncodeInt(int64(n))
	}
	return enc.EncodeString(string(c))
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (c *Count) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	switch val := v.(type) {
	case nil:
		*c = ""
	case string:
		*c = Count(val)
	case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		*c = Count(strconv.FormatInt(toInt64(val), 10))
	case float32:
		*c = Count(strconv.FormatFloat(float64(val), 'f', -1, 32))
	case float64:
		*c = Count(strconv.FormatFloat(val, 'f', -1, 64))
	default:
		*c = ""
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return 0
}
