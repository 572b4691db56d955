// Copyright Contributors to the launch project

package identity

import (
	"os"
	"testing"
)

func TestParseAndString(t *testing.T) {
	cases := []struct {
		in   string
		want UserHost
	}{
		{"alice", UserHost{User: "alice"}},
		{"alice@laptop", UserHost{User: "alice", Host: "laptop"}},
		{"alice@laptop@extra", UserHost{User: "alice", Host: "laptop@extra"}},
	}
	for _, tc := range cases {
		if got := Parse(tc.in); got != tc.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
		if got := tc.want.String(); got != tc.in {
			t.Errorf("String() = %q, want %q", got, tc.in)
		}
	}
}

func TestIsEmpty(t *testing.T) {
	if !(UserHost{}).IsEmpty() {
		t.Error("zero-value UserHost should be empty")
	}
	if (UserHost{User: "alice"}).IsEmpty() {
		t.Error("UserHost with a user set should not be empty")
	}
}

func TestMachinePrincipalIncludesHostname(t *testing.T) {
	u, err := MachinePrincipal()
	if err != nil {
		t.Fatalf("MachinePrincipal: %v", err)
	}
	if u.User == "" {
		t.Error("expected a non-empty user")
	}
	wantHost, err := os.Hostname()
	if err != nil {
		t.Fatalf("os.Hostname: %v", err)
	}
	if u.Host != wantHost {
		t.Errorf("Host = %q, want %q", u.Host, wantHost)
	}
}
