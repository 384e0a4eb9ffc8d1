// Package phpserial implements the PHP serialize format as a tagged union of values, with a length-prefix-driven
// decoder, and an encoder that always recomputes length prefixes from content.
//
// Decoded objects are opaque records (class name plus ordered properties), nothing is ever instantiated.
package phpserial

type (
	// Value is one decoded unit, one of Null, Bool, Int, Float, String, Array, Object, Custom, Enum or Reference.
	Value interface {
		Kind() Kind
		appendTo(b []byte) []byte
	}

	Kind uint8

	Null struct{}

	Bool bool

	Int int64

	Float struct {
		// Raw is the literal as it was decoded, and is emitted verbatim (if set) in preference to Value.
		Raw   string
		Value float64
	}

	String struct {
		Data string
		// Declared is the length prefix, as it was decoded. It is informational only, encoding uses len(Data).
		Declared int
	}

	Array struct {
		Entries []Entry
	}

	// Entry is an array element, the key must be Int or String.
	Entry struct {
		Key   Value
		Value Value
	}

	Object struct {
		Class      string
		Properties []Property
	}

	// Property is an object property. Private and protected property names carry "\x00Class\x00" and "\x00*\x00"
	// prefixes respectively, which are preserved as-is.
	Property struct {
		Name  string
		Value Value
	}

	// Custom models the "C:" token, used by classes implementing PHP's Serializable interface.
	Custom struct {
		Class string
		Data  string
	}

	// Enum models the "E:" token (PHP 8.1+), Name is like "Suit:Hearts".
	Enum struct {
		Name string
	}

	// Reference models the "r:" (Strong false) and "R:" (Strong true) back-reference tokens.
	Reference struct {
		Index  int64
		Strong bool
	}
)

const (
	KindNull Kind = iota + 1
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
	KindCustom
	KindEnum
	KindReference
)

var (
	_ Value = Null{}
	_ Value = Bool(false)
	_ Value = Int(0)
	_ Value = Float{}
	_ Value = String{}
	_ Value = Array{}
	_ Value = Object{}
	_ Value = Custom{}
	_ Value = Enum{}
	_ Value = Reference{}
)

func (x Kind) String() string {
	switch x {
	case KindNull:
		return `null`
	case KindBool:
		return `bool`
	case KindInt:
		return `int`
	case KindFloat:
		return `float`
	case KindString:
		return `string`
	case KindArray:
		return `array`
	case KindObject:
		return `object`
	case KindCustom:
		return `custom`
	case KindEnum:
		return `enum`
	case KindReference:
		return `reference`
	default:
		return `unknown`
	}
}

func (Null) Kind() Kind { return KindNull }

func (Bool) Kind() Kind { return KindBool }

func (Int) Kind() Kind { return KindInt }

func (Float) Kind() Kind { return KindFloat }

func (String) Kind() Kind { return KindString }

func (Array) Kind() Kind { return KindArray }

func (Object) Kind() Kind { return KindObject }

func (Custom) Kind() Kind { return KindCustom }

func (Enum) Kind() Kind { return KindEnum }

func (Reference) Kind() Kind { return KindReference }

// NewString returns a String with Declared set to the byte length of s.
func NewString(s string) String { return String{Data: s, Declared: len(s)} }

// NewFloat returns a Float without any raw literal, i.e. it will be formatted on encode.
func NewFloat(f float64) Float { return Float{Value: f} }
