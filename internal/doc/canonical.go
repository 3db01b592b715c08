package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// CanonicalKey encodes v as canonical JSON: object keys sorted by UTF-16 code
// units, strings NFC-normalized, integral numbers printed without a fraction
// so that 1, int32(1) and 1.0 encode identically. Two values have the same key
// exactly when Equal reports them equal, which makes keys usable for set
// operations over documents.
func CanonicalKey(v any) string {
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.String()
}

func writeCanonical(buf *bytes.Buffer, v any) {
	if v == nil {
		buf.WriteString("null")
		return
	}
	if n, ok := Number(v); ok {
		writeNumber(buf, n)
		return
	}
	if m, ok := AsMap(v); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sortUTF16(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			writeCanonical(buf, m[k])
		}
		buf.WriteByte('}')
		return
	}
	if l, ok := AsList(v); ok {
		buf.WriteByte('[')
		for i, e := range l {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, e)
		}
		buf.WriteByte(']')
		return
	}
	switch val := v.(type) {
	case string:
		writeString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case time.Time:
		writeString(buf, val.UTC().Format(time.RFC3339Nano))
	case fmt.Stringer:
		writeString(buf, val.String())
	default:
		writeString(buf, fmt.Sprintf("%T:%v", v, v))
	}
}

func writeNumber(buf *bytes.Buffer, n float64) {
	if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
		buf.WriteString(strconv.FormatInt(int64(n), 10))
		return
	}
	buf.WriteString(strconv.FormatFloat(n, 'g', -1, 64))
}

func writeString(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(norm.NFC.String(s))
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
}

// sortUTF16 sorts keys by UTF-16 code units.
func sortUTF16(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a := utf16.Encode([]rune(keys[i]))
		b := utf16.Encode([]rune(keys[j]))
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}
