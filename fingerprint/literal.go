package fingerprint

import (
	"reflect"
	"runtime"
	"strconv"

	"github.com/unkn0wn-root/memocas/identity"
)

// MaxLiteralLength is the longest string that fingerprints to itself.
const MaxLiteralLength = 1024

var nilLiteral = identity.Literal{Type: "nil"}

// literal returns the self-identifying fingerprint of primitive values.
// Named types keep their own type name, so type Celsius float64 and a plain
// float64 of the same value differ.
func literal(v any) (identity.Literal, bool) {
	if v == nil {
		return nilLiteral, true
	}
	rv := reflect.ValueOf(v)
	typ := rv.Type().String()
	switch rv.Kind() {
	case reflect.Bool:
		return identity.Literal{Type: typ, Repr: strconv.FormatBool(rv.Bool())}, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return identity.Literal{Type: typ, Repr: strconv.FormatInt(rv.Int(), 10)}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return identity.Literal{Type: typ, Repr: strconv.FormatUint(rv.Uint(), 10)}, true
	case reflect.Float32:
		return identity.Literal{Type: typ, Repr: strconv.FormatFloat(rv.Float(), 'g', -1, 32)}, true
	case reflect.Float64:
		return identity.Literal{Type: typ, Repr: strconv.FormatFloat(rv.Float(), 'g', -1, 64)}, true
	case reflect.Complex64:
		return identity.Literal{Type: typ, Repr: strconv.FormatComplex(rv.Complex(), 'g', -1, 64)}, true
	case reflect.Complex128:
		return identity.Literal{Type: typ, Repr: strconv.FormatComplex(rv.Complex(), 'g', -1, 128)}, true
	case reflect.String:
		s := rv.String()
		if len(s) > MaxLiteralLength {
			return identity.Literal{}, false
		}
		return identity.Literal{Type: typ, Repr: s}, true
	}
	return identity.Literal{}, false
}

// goFunc fingerprints a plain Go func value by its symbol name. Go keeps no
// inspectable code at runtime, so such functions are treated like library
// code.
func goFunc(v any) (identity.Fingerprint, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Func {
		return nil, false
	}
	if rv.IsNil() {
		return nilLiteral, true
	}
	name := "<unknown>"
	if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
		name = fn.Name()
	}
	return identity.FuncFingerprint{Code: "name:" + name}, true
}
