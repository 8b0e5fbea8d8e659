package convert

import (
	"errors"
	"testing"

	"wbtn/internal/jsondata"
)

func TestFromAnyMapsOpenDomain(t *testing.T) {
	cases := []struct {
		name string
		in   any
		kind Kind
	}{
		{"nil", nil, KindNull},
		{"bool", true, KindBool},
		{"int", 42, KindInt},
		{"int64", int64(42), KindInt},
		{"float", 1.5, KindFloat},
		{"string", "x", KindString},
		{"bytes", []byte("x"), KindBytes},
		{"map", map[string]any{"a": 1}, KindJSON},
		{"slice", []any{1, 2}, KindJSON},
	}
	for _, tc := range cases {
		v, err := FromAny(tc.in)
		if err != nil {
			t.Fatalf("%s: FromAny: %v", tc.name, err)
		}
		if v.Kind() != tc.kind {
			t.Fatalf("%s: kind = %v, want %v", tc.name, v.Kind(), tc.kind)
		}
	}
}

func TestNilJSONPayloadIsNull(t *testing.T) {
	if v := JSON(nil); !v.IsNull() {
		t.Fatalf("JSON(nil) kind = %v, want null", v.Kind())
	}

	v, err := FromAny((*jsondata.Data)(nil))
	if err != nil {
		t.Fatalf("FromAny: %v", err)
	}
	if !v.IsNull() {
		t.Fatalf("typed-nil payload kind = %v, want null", v.Kind())
	}

	codec := &Codec{}
	tag, _, arg, err := codec.Dump(v, TagNone)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if tag != TagNull || arg != nil {
		t.Fatalf("Dump = (%q, %v), want (null, nil)", tag, arg)
	}
	if _, err := codec.DumpBytes(v); err != nil {
		t.Fatalf("DumpBytes: %v", err)
	}
}

func TestFromAnyRejectsUnknownShapes(t *testing.T) {
	if _, err := FromAny(struct{ X int }{1}); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("FromAny = %v, want ErrUnsupportedType", err)
	}
}

func TestValueEqualAcrossKinds(t *testing.T) {
	eq, err := Int(1).Equal(String("1"))
	if err != nil {
		t.Fatalf("Equal: %v", err)
	}
	if eq {
		t.Fatal("values of different kinds compare equal")
	}

	eq, err = Bytes([]byte("ab")).Equal(Bytes([]byte("ab")))
	if err != nil {
		t.Fatalf("Equal: %v", err)
	}
	if !eq {
		t.Fatal("identical byte values compare unequal")
	}
}
