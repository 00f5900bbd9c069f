package pickup

import (
	"bytes"
	"strings"
	"testing"
)

func TestGeneratorNext(t *testing.T) {
	gen := NewGenerator("", 0)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := gen.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !strings.HasPrefix(code, DefaultPrefix) || len(code) != len(DefaultPrefix)+DefaultLength {
			t.Fatalf("unexpected code shape %q", code)
		}
		if !gen.Valid(code) {
			t.Fatalf("generated code %q is not valid", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 190 {
		t.Fatalf("expected mostly unique codes, got %d distinct", len(seen))
	}
}

func TestGeneratorCustomShape(t *testing.T) {
	gen := NewGenerator("ext-", 4)
	code, err := gen.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !strings.HasPrefix(code, "EXT-") || len(code) != 8 {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestValidRejectsAmbiguousCharacters(t *testing.T) {
	gen := NewGenerator(DefaultPrefix, DefaultLength)
	cases := map[string]bool{
		"RC-7KQ2XM": true,
		"rc-7kq2xm": true,
		"RC-7KQ2X0": false,
		"RC-7KQ2XI": false,
		"RC-7KQ2X":  false,
		"XX-7KQ2XM": false,
	}
	for code, want := range cases {
		if got := gen.Valid(code); got != want {
			t.Fatalf("Valid(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestPNGEncoder(t *testing.T) {
	png, err := PNGEncoder{}.Encode("RC-7KQ2XM")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("expected png header")
	}
	if _, err := (PNGEncoder{}).Encode("  "); err == nil {
		t.Fatalf("expected error for empty code")
	}
}
