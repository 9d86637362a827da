package value

import (
	"errors"
	"testing"
)

func TestOfCollapsesIntegerWidths(t *testing.T) {
	// The codec hands back whatever width the payload packed the number as;
	// all of them must resolve to the integer kind.
	raws := []any{int(7), int8(7), int16(7), int32(7), int64(7), uint(7), uint8(7), uint16(7), uint32(7), uint64(7)}
	for _, raw := range raws {
		v := Of(raw)
		if v.Kind() != KindInteger {
			t.Fatalf("Of(%T): expect integer kind, got %s", raw, v.Kind())
		}
		if v.Int() != 7 {
			t.Fatalf("Of(%T): expect 7, got %d", raw, v.Int())
		}
	}
}

func TestOfDistinguishesStringAndBinary(t *testing.T) {
	if v := Of("hello"); v.Kind() != KindString {
		t.Fatalf("expect string kind, got %s", v.Kind())
	}
	if v := Of([]byte("hello")); v.Kind() != KindBinary {
		t.Fatalf("expect binary kind, got %s", v.Kind())
	}
}

func TestOfNested(t *testing.T) {
	raw := map[string]any{
		"name":  "meter",
		"count": int64(3),
		"tags":  []any{"a", "b"},
	}
	v := Of(raw)
	if v.Kind() != KindObject {
		t.Fatalf("expect object kind, got %s", v.Kind())
	}
	obj := v.Object()
	if obj["count"].Int() != 3 {
		t.Fatalf("expect count 3, got %d", obj["count"].Int())
	}
	if len(obj["tags"].Array()) != 2 {
		t.Fatalf("expect 2 tags, got %d", len(obj["tags"].Array()))
	}
}

func TestRawRoundTrip(t *testing.T) {
	v := Object(map[string]Value{
		"id":   Int(42),
		"rate": Float(0.5),
		"ok":   Bool(true),
	})
	back := Of(v.Raw())
	if !v.Equal(back) {
		t.Fatalf("round trip changed value: %v vs %v", v.Raw(), back.Raw())
	}
}

func TestCoerceIntegerToFloat(t *testing.T) {
	got, err := Coerce(Int(3), KindFloat)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if got.Kind() != KindFloat || got.Float() != 3.0 {
		t.Fatalf("expect float 3.0, got %s %v", got.Kind(), got.Float())
	}
}

func TestCoerceNumericString(t *testing.T) {
	got, err := Coerce(String("12"), KindInteger)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if got.Int() != 12 {
		t.Fatalf("expect 12, got %d", got.Int())
	}

	got, err = Coerce(String("1.5"), KindFloat)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if got.Float() != 1.5 {
		t.Fatalf("expect 1.5, got %v", got.Float())
	}
}

func TestCoerceAnythingToString(t *testing.T) {
	got, err := Coerce(Int(42), KindString)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if got.String() != "42" {
		t.Fatalf(`expect "42", got %q`, got.String())
	}

	got, err = Coerce(Bool(true), KindString)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if got.String() != "true" {
		t.Fatalf(`expect "true", got %q`, got.String())
	}
}

func TestCoerceNullToZero(t *testing.T) {
	got, err := Coerce(Null(), KindInteger)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if got.Kind() != KindInteger || got.Int() != 0 {
		t.Fatalf("expect integer 0, got %s %d", got.Kind(), got.Int())
	}
}

func TestCoerceIncompatible(t *testing.T) {
	_, err := Coerce(String("abc"), KindInteger)
	if err == nil {
		t.Fatal("expect *TypeError, got nil")
	}
	var terr *TypeError
	if !errors.As(err, &terr) {
		t.Fatalf("expect *TypeError, got %T", err)
	}
	want := `type "string" is not compatible with "integer"`
	if terr.Error() != want {
		t.Fatalf("expect %q, got %q", want, terr.Error())
	}

	// Narrowing float to integer is not allowed either.
	if _, err := Coerce(Float(1.5), KindInteger); err == nil {
		t.Fatal("expect error coercing float to integer, got nil")
	}
}

func TestEqualCrossNumeric(t *testing.T) {
	if !Int(3).Equal(Float(3.0)) {
		t.Fatal("expect 3 == 3.0 across kinds")
	}
	if Int(3).Equal(String("3")) {
		t.Fatal("integer must not equal string")
	}
}

func TestParamDefault(t *testing.T) {
	p := NewEmptyParam("limit", KindInteger).WithDefault(Int(7))
	got, err := p.GetValue()
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if got.Int() != 7 {
		t.Fatalf("expect default 7, got %d", got.Int())
	}
}

func TestParamZeroWithoutDefault(t *testing.T) {
	p := NewEmptyParam("limit", KindInteger)
	got, err := p.GetValue()
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if !got.Equal(Int(0)) {
		t.Fatalf("expect zero value 0, got %v", got.Raw())
	}
	if p.Exists() {
		t.Fatal("empty param must not report Exists")
	}
}

func TestParamCoercesDeclaredType(t *testing.T) {
	p := NewTypedParam("limit", KindInteger, String("12"))
	got, err := p.GetValue()
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if got.Kind() != KindInteger || got.Int() != 12 {
		t.Fatalf("expect integer 12, got %s %v", got.Kind(), got.Raw())
	}
}

func TestParamIncompatibleValue(t *testing.T) {
	p := NewTypedParam("limit", KindInteger, String("abc"))
	_, err := p.GetValue()
	var terr *TypeError
	if !errors.As(err, &terr) {
		t.Fatalf("expect *TypeError, got %v", err)
	}
}

func TestParamDataRoundTrip(t *testing.T) {
	p := NewTypedParam("limit", KindInteger, Int(5))
	back := ParamFromData(p.ToData())
	if back.Name() != "limit" || back.Type() != KindInteger {
		t.Fatalf("expect limit/integer, got %s/%s", back.Name(), back.Type())
	}
	got, err := back.GetValue()
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if got.Int() != 5 {
		t.Fatalf("expect 5, got %d", got.Int())
	}
}
