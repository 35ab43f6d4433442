package cache

import (
	"testing"
)

func TestExclusionList_NilSafe(t *testing.T) {
	var el *ExclusionList
	if el.Matches("8.8.8.8") {
		t.Fatal("nil ExclusionList must never match")
	}
	if el.Len() != 0 {
		t.Fatal("nil ExclusionList Len must be 0")
	}
}

func TestExclusionList_ExactMatch(t *testing.T) {
	el, err := NewExclusionList([]string{"8.8.8.8", "2001:db8::1"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		ip   string
		want bool
	}{
		{"8.8.8.8", true},
		{"2001:db8::1", true},
		{"8.8.4.4", false},
		{"8.8.8.9", false},
		{"2001:db8::2", false},
	}
	for _, c := range cases {
		if got := el.Matches(c.ip); got != c.want {
			t.Errorf("Matches(%q) = %v, want %v", c.ip, got, c.want)
		}
	}
}

func TestExclusionList_CIDRMatch(t *testing.T) {
	el, err := NewExclusionList(nil, []string{"203.0.113.0/24", "2001:db8:ff::/48"})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		ip   string
		want bool
	}{
		{"203.0.113.1", true},
		{"203.0.113.254", true},
		{"203.0.114.1", false},
		{"2001:db8:ff::42", true},
		{"2001:db8:fe::42", false},
		{"8.8.8.8", false},
	}
	for _, c := range cases {
		if got := el.Matches(c.ip); got != c.want {
			t.Errorf("Matches(%q) = %v, want %v", c.ip, got, c.want)
		}
	}
}

func TestExclusionList_ExactAndCIDRTogether(t *testing.T) {
	el, err := NewExclusionList(
		[]string{"8.8.8.8"},
		[]string{"203.0.113.0/24"},
	)
	if err != nil {
		t.Fatal(err)
	}

	if !el.Matches("8.8.8.8") {
		t.Error("exact match missed")
	}
	if !el.Matches("203.0.113.7") {
		t.Error("network match missed")
	}
	if el.Matches("8.8.4.4") {
		t.Error("should not match")
	}
}

func TestExclusionList_NormalizesExactRules(t *testing.T) {
	// Rules written in non-canonical form still match canonical input.
	el, err := NewExclusionList([]string{"2001:DB8:0:0:0:0:0:1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !el.Matches("2001:db8::1") {
		t.Error("canonical form of an exact rule must match")
	}
}

func TestExclusionList_InvalidRules(t *testing.T) {
	if _, err := NewExclusionList([]string{"not-an-ip"}, nil); err == nil {
		t.Fatal("expected error for invalid address rule")
	}
	if _, err := NewExclusionList(nil, []string{"203.0.113.0/40"}); err == nil {
		t.Fatal("expected error for invalid network rule")
	}
}

func TestExclusionList_EmptyStringsSkipped(t *testing.T) {
	el, err := NewExclusionList([]string{"", "8.8.8.8", ""}, []string{"", "203.0.113.0/24"})
	if err != nil {
		t.Fatal(err)
	}
	if !el.Matches("8.8.8.8") {
		t.Error("should match the exact rule")
	}
	if !el.Matches("203.0.113.9") {
		t.Error("should match the network rule")
	}
	if el.Len() != 2 { // 1 exact + 1 network
		t.Errorf("Len = %d, want 2", el.Len())
	}
}
