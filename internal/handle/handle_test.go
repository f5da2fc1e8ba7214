package handle

import "testing"

func TestFormat(t *testing.T) {
	cases := []struct {
		n    uint64
		want string
	}{
		{1, "Anonymous001"},
		{7, "Anonymous007"},
		{42, "Anonymous042"},
		{999, "Anonymous999"},
		{1000, "Anonymous1000"},
		{12345, "Anonymous12345"},
	}
	for _, tc := range cases {
		if got := Format(tc.n); got != tc.want {
			t.Errorf("Format(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, n := range []uint64{1, 9, 99, 999, 1000, 99999} {
		got, ok := Parse(Format(n))
		if !ok {
			t.Fatalf("Parse(Format(%d)) not ok", n)
		}
		if got != n {
			t.Errorf("Parse(Format(%d)) = %d", n, got)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"Anonymous",
		"Anonymous01",     // too few digits
		"Anonymous0001",   // padded past width
		"Anonymous01000",  // leading zero past width
		"Anonymous12a",    // non-digit
		"anonymous001",    // wrong case prefix
		"Anon001",         // wrong prefix
		"Anonymous001 ",   // trailing space
		" Anonymous001",   // leading space
		"Anonymous001xyz", // trailing junk
	}
	for _, s := range bad {
		if _, ok := Parse(s); ok {
			t.Errorf("Parse(%q) accepted, want rejected", s)
		}
	}
}

func TestMatches(t *testing.T) {
	if !Matches("Anonymous001") {
		t.Error("Matches(Anonymous001) = false")
	}
	if Matches("Jane Doe") {
		t.Error("Matches(Jane Doe) = true")
	}
}
