package postgres

import "testing"

func TestSanitizeName(t *testing.T) {
	valid := []string{"outbox", "OUTBOX_1", "inbox_work"}
	for _, name := range valid {
		if _, err := sanitizeName(name); err != nil {
			t.Fatalf("expected valid name %q: %v", name, err)
		}
	}

	invalid := []string{"", "outbox;drop", "outbox-1", "1outbox", "out box", "a.b"}
	for _, name := range invalid {
		if _, err := sanitizeName(name); err == nil {
			t.Fatalf("expected invalid name %q", name)
		}
	}
}

func TestQualifyName(t *testing.T) {
	name, err := qualifyName("", "outbox")
	if err != nil {
		t.Fatalf("qualify: %v", err)
	}
	if name != "outbox" {
		t.Fatalf("unexpected name %q", name)
	}

	name, err = qualifyName("coord", "outbox")
	if err != nil {
		t.Fatalf("qualify with schema: %v", err)
	}
	if name != "coord.outbox" {
		t.Fatalf("unexpected name %q", name)
	}

	if _, err := qualifyName("bad;schema", "outbox"); err == nil {
		t.Fatalf("expected invalid schema rejected")
	}
}
