package propertymodel

import "testing"

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"123 Main St.", "123 MAIN ST"},
		{"123   Main   St", "123 MAIN ST"},
		{"  123 Main St  ", "123 MAIN ST"},
		{"123 Main St, Apt #4", "123 MAIN ST APT 4"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeAddress(c.in); got != c.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPropertyKeyStability(t *testing.T) {
	k1 := PropertyKey("123 Main St.", "92128")
	k2 := PropertyKey("123   main   st", "92128")
	if k1 != k2 {
		t.Fatalf("expected stable key across equivalent addresses, got %q vs %q", k1, k2)
	}
	if k1 != "123 MAIN ST|92128" {
		t.Fatalf("unexpected key: %q", k1)
	}
}
