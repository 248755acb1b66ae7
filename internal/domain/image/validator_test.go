package image

import (
	"errors"
	"testing"
)

func TestValidateBytes(t *testing.T) {
	security := defaultSecurity()
	security.MaxPixels = 100
	security.AllowedFormats = []string{"png"}
	v := NewSecurityValidator(security, nil)

	if res := v.ValidateBytes(pngBytes(t, 5, 5), "png"); !res.IsValid || res.Format != "png" {
		t.Fatalf("expected valid png, got %+v", res)
	}

	tests := []struct {
		name     string
		raw      []byte
		declared string
		want     error
	}{
		{name: "empty", raw: nil, want: ErrEmpty},
		{name: "too many pixels", raw: pngBytes(t, 20, 20), declared: "png", want: ErrInvalidImage},
		{name: "format not allowed", raw: pngBytes(t, 2, 2), declared: "gif", want: ErrInvalidImage},
		{name: "garbage", raw: []byte{0x00, 0x01, 0x02}, declared: "png", want: ErrInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateBytes(tt.raw, tt.declared)
			if res.IsValid {
				t.Fatal("expected invalid result")
			}
			if !errors.Is(res.Error, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, res.Error)
			}
		})
	}
}

func TestScanForMaliciousContent(t *testing.T) {
	v := NewSecurityValidator(defaultSecurity(), nil)
	cases := map[string]bool{
		"MZ\x90\x00":                           true,
		"%PDF-1.4":                             true,
		"<svg><script>alert(1)</script></svg>": true,
		"<svg><rect/></svg>":                   false,
		"\x89PNG":                              false,
	}
	for input, want := range cases {
		if got := v.scanForMaliciousContent([]byte(input)); got != want {
			t.Errorf("scan(%q) = %v, want %v", input, got, want)
		}
	}
}
