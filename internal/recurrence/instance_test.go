package recurrence

import (
	"testing"
	"time"
)

func TestInstanceIDRoundTrip(t *testing.T) {
	parent := "2b1c6f9e-8f4a-4f6d-9a2e-3f5b7c8d9e0f"
	start := time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC)

	id := InstanceID(parent, start)
	gotParent, gotStart, ok := ParseInstanceID(id)
	if !ok {
		t.Fatal("ParseInstanceID should recognize an encoded instance id")
	}
	if gotParent != parent {
		t.Errorf("parent = %q, want %q", gotParent, parent)
	}
	if !gotStart.Equal(start) {
		t.Errorf("start = %v, want %v", gotStart, start)
	}
}

func TestInstanceIDNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	start := time.Date(2026, 2, 3, 10, 30, 0, 0, loc)

	_, gotStart, ok := ParseInstanceID(InstanceID("parent", start))
	if !ok {
		t.Fatal("expected instance id")
	}
	if !gotStart.Equal(start) {
		t.Errorf("start = %v, not the same instant as %v", gotStart, start)
	}
	if gotStart.Location() != time.UTC {
		t.Errorf("decoded location = %v, want UTC", gotStart.Location())
	}
}

func TestParseConcreteID(t *testing.T) {
	parent, start, ok := ParseInstanceID("550e8400-e29b-41d4-a716-446655440000")
	if ok {
		t.Error("concrete id should not parse as an instance")
	}
	if parent != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("parent = %q, want the whole id", parent)
	}
	if !start.IsZero() {
		t.Errorf("start = %v, want zero", start)
	}
}

func TestParseMalformedSuffixDegrades(t *testing.T) {
	// A recognizable marker with garbage after it is treated as a plain
	// (unknown) event id rather than an error.
	inputs := []string{
		"abc::instance::not-a-timestamp",
		"abc::instance::",
		"::instance::2026-02-03T10:00:00Z", // empty parent still round-trips the structure
	}
	for _, in := range inputs[:2] {
		parent, _, ok := ParseInstanceID(in)
		if ok {
			t.Errorf("ParseInstanceID(%q) ok = true, want degradation", in)
		}
		if parent != in {
			t.Errorf("ParseInstanceID(%q) parent = %q, want whole input", in, parent)
		}
	}

	parent, _, ok := ParseInstanceID(inputs[2])
	if !ok || parent != "" {
		t.Errorf("ParseInstanceID(%q) = (%q, ok=%v)", inputs[2], parent, ok)
	}
}

func TestIsInstanceID(t *testing.T) {
	if !IsInstanceID(InstanceID("p", time.Now())) {
		t.Error("encoded id should be an instance id")
	}
	if IsInstanceID("p") {
		t.Error("plain id should not be an instance id")
	}
}
