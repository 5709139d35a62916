package frames

import "testing"

func TestNormalizeLanguage(t *testing.T) {
	cases := []struct{ in, want string }{
		{"hi", "hi"},
		{" hi-IN ", "hi-in"},
		{"en_US", "en-us"},
		{"", ""},
		{"\u212a", ""},
		{"हिन्दी", ""},
		{"en;drop", ""},
		{"a-very-long-tag-xyz", ""},
	}
	for _, tc := range cases {
		if got := NormalizeLanguage(tc.in); got != tc.want {
			t.Fatalf("NormalizeLanguage(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
