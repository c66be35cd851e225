package analyzer

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		enc  Encoding
		in   string
	}{
		{"url", EncodingURL, "hello world & friends"},
		{"base64", EncodingBase64, "binary\x00safe\xffdata"},
		{"hex", EncodingHex, "hex encode me"},
		{"html", EncodingHTML, `<script>alert("x")</script>`},
		{"unicode", EncodingUnicode, "héllo wörld 日本語"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.in, tc.enc)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := Decode(encoded, tc.enc)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded != tc.in {
				t.Errorf("round trip: got %q, want %q", decoded, tc.in)
			}
		})
	}
}

func TestEncodeUnsupported(t *testing.T) {
	if _, err := Encode("x", Encoding("nonsense")); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}

func TestDetectEncodings(t *testing.T) {
	found := DetectEncodings("hello%20world")
	if len(found) == 0 {
		t.Fatal("expected at least one candidate encoding detected")
	}
	var hasURL bool
	for _, e := range found {
		if e == EncodingURL {
			hasURL = true
		}
	}
	if !hasURL {
		t.Errorf("expected url encoding among candidates, got %v", found)
	}
}
