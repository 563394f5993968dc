package extract

import "testing"

func TestSplitDateTime(t *testing.T) {
	cases := []struct {
		in, date, time string
	}{
		{"2024-03-01 10:15", "2024-03-01", "10:15"},
		{"03/01/2024", "03/01/2024", ""},
		{"03/01/2024   09:05 ", "03/01/2024", "09:05"},
		{"03/01/2024\t09:05", "03/01/2024", "09:05"},
		{"2024-03-01 10:15 11", "2024-03-01", "10:15 11"},
		{"Unknown Date Time", "Unknown Date Time", ""},
		{"", "", ""},
		{"   ", "", ""},
	}
	for _, tc := range cases {
		d, tm := SplitDateTime(tc.in)
		if d != tc.date || tm != tc.time {
			t.Errorf("SplitDateTime(%q) = (%q, %q), want (%q, %q)", tc.in, d, tm, tc.date, tc.time)
		}
	}
}
