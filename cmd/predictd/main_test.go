package main

import "testing"

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("PREDICTD_TEST_KEY", "from-env")
	if v := envOr("PREDICTD_TEST_KEY", "def"); v != "from-env" {
		t.Fatalf("envOr = %q", v)
	}
	if v := envOr("PREDICTD_TEST_MISSING", "def"); v != "def" {
		t.Fatalf("envOr = %q", v)
	}
}
