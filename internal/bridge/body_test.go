package bridge

import (
	"slices"
	"testing"
)

func TestParseBodyKeepsKeyOrder(t *testing.T) {
	b := ParseBody([]byte(`{"b":1,"a":"x","c":{"z":true,"y":null}}`))
	if got, want := b.Keys(), []string{"b", "a", "c"}; !slices.Equal(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
	sub, ok := b.Object("c")
	if !ok {
		t.Fatal("Object(c) failed")
	}
	if got, want := sub.Keys(), []string{"z", "y"}; !slices.Equal(got, want) {
		t.Errorf("nested Keys = %v, want %v", got, want)
	}
	if !sub.Has("y") || sub.Value("y") != nil {
		t.Errorf("null value should be present and nil")
	}
}

func TestParseBodyInvalid(t *testing.T) {
	for _, in := range []string{"", "{", "x", "[1,2]", `{"a":1}garbage`, `{"a":}`} {
		if b := ParseBody([]byte(in)); b.Len() != 0 {
			t.Errorf("ParseBody(%q) has %d keys, want 0", in, b.Len())
		}
	}
}

func TestBodyTypedAccessors(t *testing.T) {
	b := ParseBody([]byte(`{"n":2.6,"neg":-1.5,"s":"str","on":true,"l":["1","2"],"bad":"7"}`))
	if n, ok := b.Int("n"); !ok || n != 3 {
		t.Errorf("Int(n) = %d, %v, want 3", n, ok)
	}
	if n, ok := b.Int("neg"); !ok || n != -2 {
		t.Errorf("Int(neg) = %d, %v, want -2", n, ok)
	}
	if _, ok := b.Int("bad"); ok {
		t.Error("Int of a string should fail")
	}
	if _, ok := b.String("n"); ok {
		t.Error("String of a number should fail")
	}
	if v, ok := b.Bool("on"); !ok || !v {
		t.Errorf("Bool(on) = %v, %v", v, ok)
	}
	if l, ok := b.Strings("l"); !ok || !slices.Equal(l, []string{"1", "2"}) {
		t.Errorf("Strings(l) = %v, %v", l, ok)
	}
	if _, ok := b.String("missing"); ok {
		t.Error("missing key should fail")
	}
}

func TestBodyFromMap(t *testing.T) {
	b := BodyFromMap(map[string]any{"on": true, "bri": 100})
	if got, want := b.Keys(), []string{"bri", "on"}; !slices.Equal(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
	if BodyFromMap(nil).Len() != 0 {
		t.Error("nil map should give an empty body")
	}
}
