package audit

import (
	"fmt"
	"testing"
)

func TestRecordAndEntries(t *testing.T) {
	l := NewLog()
	l.Record("post-finding", "published", map[string]string{"thread": "42"})
	l.Record("injection-check", "blocked", nil)

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != "post-finding" || entries[1].Outcome != "blocked" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestCapacityEviction(t *testing.T) {
	l := NewLogWithCapacity(5)
	for i := 0; i < 12; i++ {
		l.Record(fmt.Sprintf("action-%d", i), "ok", nil)
	}

	entries := l.Entries()
	if len(entries) != 5 {
		t.Fatalf("expected 5 retained entries, got %d", len(entries))
	}
	if entries[0].Action != "action-7" {
		t.Errorf("expected oldest retained to be action-7, got %s", entries[0].Action)
	}
	if entries[4].Action != "action-11" {
		t.Errorf("expected newest to be action-11, got %s", entries[4].Action)
	}
}

func TestTwoLogsAreIndependent(t *testing.T) {
	a := NewLog()
	b := NewLog()
	a.Record("x", "ok", nil)

	if b.Len() != 0 {
		t.Fatal("logs must not share state")
	}
}

func TestNilLogIsSafe(t *testing.T) {
	var l *Log
	l.Record("x", "ok", nil)
	if l.Len() != 0 || l.Entries() != nil {
		t.Fatal("nil log should no-op")
	}
}
