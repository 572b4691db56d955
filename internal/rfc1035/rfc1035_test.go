// Copyright Contributors to the launch project

package rfc1035

import "testing"

func TestToLabelLossy(t *testing.T) {
	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{"", "", false},
		{"-", "", false},
		{".", "", false},
		{"X", "", false},
		{"1", "", false},
		{"-.X", "", false},
		{"a", "a", true},
		{"a-", "a", true},
		{"a1", "a1", true},
		{"-a", "a", true},
		{"-a-", "a", true},
		{"--a", "a", true},
		{"a--", "a", true},
		{"--a-", "a", true},
		{"-aXa-", "a-a", true},
		{"-a--", "a", true},
		{"a.", "a", true},
		{"a.c", "a-c", true},
		{"-a.c.", "a-c", true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := ToLabelLossy(tc.input)
			if ok != tc.ok || got != tc.want {
				t.Errorf("ToLabelLossy(%q) = %q, %v; want %q, %v", tc.input, got, ok, tc.want, tc.ok)
			}
			if ok && !IsLabel(got) {
				t.Errorf("ToLabelLossy(%q) = %q does not satisfy IsLabel", tc.input, got)
			}
		})
	}
}

func TestIdempotence(t *testing.T) {
	inputs := []string{"a", "a.c", "-aXa-", "Mixed_Case.Name--1"}
	for _, s := range inputs {
		once, ok := ToLabelLossy(s)
		if !ok {
			continue
		}
		twice, ok2 := ToLabelLossy(once)
		if !ok2 || once != twice {
			t.Errorf("sanitize not idempotent for %q: once=%q twice=%q", s, once, twice)
		}
	}
}
