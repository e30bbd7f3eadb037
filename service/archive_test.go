package service

import "testing"

func TestObjectName(t *testing.T) {
	got := ObjectName("alice@example.com", "c-1", "lease.pdf")
	want := "alice@example.com/c-1/lease.pdf"
	if got != want {
		t.Errorf("ObjectName = %q, want %q", got, want)
	}
}
