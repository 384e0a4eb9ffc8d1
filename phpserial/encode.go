package phpserial

import (
	"math"
	"strconv"
	"strings"
)

// Encode serializes v, recomputing every length prefix and count from content. A nil v encodes as "N;".
func Encode(v Value) []byte {
	return AppendEncode(nil, v)
}

// AppendEncode is like Encode, but appends to b.
func AppendEncode(b []byte, v Value) []byte {
	if v == nil {
		return append(b, `N;`...)
	}
	return v.appendTo(b)
}

func (Null) appendTo(b []byte) []byte {
	return append(b, `N;`...)
}

func (x Bool) appendTo(b []byte) []byte {
	if x {
		return append(b, `b:1;`...)
	}
	return append(b, `b:0;`...)
}

func (x Int) appendTo(b []byte) []byte {
	b = append(b, `i:`...)
	b = strconv.AppendInt(b, int64(x), 10)
	return append(b, ';')
}

func (x Float) appendTo(b []byte) []byte {
	b = append(b, `d:`...)
	if x.Raw != `` {
		b = append(b, x.Raw...)
	} else {
		b = appendFloat(b, x.Value)
	}
	return append(b, ';')
}

func (x String) appendTo(b []byte) []byte {
	return appendQuoted(append(b, `s:`...), x.Data, ';')
}

func (x Array) appendTo(b []byte) []byte {
	b = append(b, `a:`...)
	b = strconv.AppendInt(b, int64(len(x.Entries)), 10)
	b = append(b, `:{`...)
	for _, e := range x.Entries {
		b = AppendEncode(b, e.Key)
		b = AppendEncode(b, e.Value)
	}
	return append(b, '}')
}

func (x Object) appendTo(b []byte) []byte {
	b = appendQuoted(append(b, `O:`...), x.Class, ':')
	b = strconv.AppendInt(b, int64(len(x.Properties)), 10)
	b = append(b, `:{`...)
	for _, p := range x.Properties {
		b = appendQuoted(append(b, `s:`...), p.Name, ';')
		b = AppendEncode(b, p.Value)
	}
	return append(b, '}')
}

func (x Custom) appendTo(b []byte) []byte {
	b = appendQuoted(append(b, `C:`...), x.Class, ':')
	b = strconv.AppendInt(b, int64(len(x.Data)), 10)
	b = append(b, `:{`...)
	b = append(b, x.Data...)
	return append(b, '}')
}

func (x Enum) appendTo(b []byte) []byte {
	return appendQuoted(append(b, `E:`...), x.Name, ';')
}

func (x Reference) appendTo(b []byte) []byte {
	if x.Strong {
		b = append(b, `R:`...)
	} else {
		b = append(b, `r:`...)
	}
	b = strconv.AppendInt(b, x.Index, 10)
	return append(b, ';')
}

func appendQuoted(b []byte, s string, term byte) []byte {
	b = strconv.AppendInt(b, int64(len(s)), 10)
	b = append(b, `:"`...)
	b = append(b, s...)
	b = append(b, '"', term)
	return b
}

// appendFloat formats like PHP's serialize with serialize_precision=-1, e.g. 0.1, 1.0E+25, -INF.
func appendFloat(b []byte, f float64) []byte {
	switch {
	case math.IsNaN(f):
		return append(b, `NAN`...)
	case math.IsInf(f, 1):
		return append(b, `INF`...)
	case math.IsInf(f, -1):
		return append(b, `-INF`...)
	}

	if f == 0 || (math.Abs(f) >= 1e-4 && math.Abs(f) < 1e15) {
		return strconv.AppendFloat(b, f, 'f', -1, 64)
	}

	s := strconv.FormatFloat(f, 'E', -1, 64)
	mantissa, exp, _ := strings.Cut(s, `E`)
	if !strings.Contains(mantissa, `.`) {
		mantissa += `.0`
	}
	b = append(b, mantissa...)
	b = append(b, 'E')
	if exp[0] == '+' || exp[0] == '-' {
		b = append(b, exp[0])
		exp = exp[1:]
	}
	return append(b, strings.TrimLeft(exp, `0`)...)
}
