// ABOUTME: Tests for the version-control data model
// ABOUTME: Covers version number parsing and status transitions

package document

import (
	"testing"
	"time"
)

func TestParseNumber(t *testing.T) {
	n, err := ParseNumber("2.3")
	if err != nil {
		t.Fatalf("ParseNumber failed: %v", err)
	}
	if n.Major != 2 || n.Minor != 3 {
		t.Errorf("Expected 2.3, got %d.%d", n.Major, n.Minor)
	}
	if got := n.NextMinor().String(); got != "2.4" {
		t.Errorf("Expected 2.4, got %s", got)
	}
	if got := n.NextMajor().String(); got != "3.0" {
		t.Errorf("Expected 3.0, got %s", got)
	}

	for _, bad := range []string{"", "1", "a.b", "1.-1", "-1.0"} {
		if _, err := ParseNumber(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusReview, true},
		{StatusReview, StatusApproved, true},
		{StatusDraft, StatusApproved, true},
		{StatusApproved, StatusApproved, true},
		{StatusApproved, StatusArchived, true},
		{StatusReview, StatusDraft, true},
		{StatusArchived, StatusApproved, false},
		{StatusDraft, StatusArchived, false},
		{StatusArchived, StatusDraft, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	v := &Version{
		Content:  []byte("abc"),
		Tags:     []string{"a"},
		Metadata: map[string]any{"k": "v"},
	}
	c := v.Clone()
	c.Content[0] = 'x'
	c.Tags[0] = "b"
	c.Metadata["k"] = "changed"

	if string(v.Content) != "abc" || v.Tags[0] != "a" || v.Metadata["k"] != "v" {
		t.Errorf("Clone shares state with original: %+v", v)
	}
}

func TestLockExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := &Lock{ExpiresAt: now.Add(time.Minute)}
	if l.Expired(now) {
		t.Error("Lock should not be expired before ExpiresAt")
	}
	if !l.Expired(now.Add(time.Minute)) {
		t.Error("Lock should be expired at ExpiresAt")
	}
}
