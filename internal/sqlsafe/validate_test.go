package sqlsafe

import (
	"errors"
	"strings"
	"testing"

	"mindcore/internal/fault"
)

func TestValidIdentifiers(t *testing.T) {
	valid := []string{
		"agent_sessions",
		"x",
		"_private",
		"schema1.table2",
		"a.b.c",
		"Table_99",
		strings.Repeat("a", 255),
	}
	for _, name := range valid {
		if err := ValidateIdentifier(name); err != nil {
			t.Errorf("expected %q to validate, got %v", name, err)
		}
	}
}

func TestInvalidIdentifiers(t *testing.T) {
	invalid := []string{
		"",
		"1starts_with_digit",
		"has space",
		"has-dash",
		"a.b.c.d",
		"semi;colon",
		"quote'name",
		`double"quote`,
		"back`tick",
		"null\x00byte",
		"comment--",
		"block/*comment",
		"close*/comment",
		strings.Repeat("a", 256),
	}
	for _, name := range invalid {
		err := ValidateIdentifier(name)
		if err == nil {
			t.Errorf("expected %q to be rejected", name)
			continue
		}
		if !errors.Is(err, fault.ErrInvalidIdentifier) {
			t.Errorf("expected InvalidIdentifier for %q, got %v", name, err)
		}
	}
}

func TestBlocklistedKeywords(t *testing.T) {
	for _, name := range []string{"select", "SELECT", "Drop", "union", "ATTACH", "pragma", "Pragma"} {
		if err := ValidateIdentifier(name); err == nil {
			t.Errorf("expected keyword %q to be rejected", name)
		}
	}
	// Keywords as a dotted segment are also rejected.
	if err := ValidateIdentifier("app.select"); err == nil {
		t.Error("expected dotted keyword segment to be rejected")
	}
}

func TestInjectionAttack(t *testing.T) {
	err := ValidateIdentifier("id; DROP TABLE agent_sessions--")
	if !errors.Is(err, fault.ErrInvalidIdentifier) {
		t.Fatalf("expected InvalidIdentifier, got %v", err)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	if got := QuoteIdentifier("agent_sessions"); got != `"agent_sessions"` {
		t.Errorf("unexpected quoting: %s", got)
	}
	if got := QuoteIdentifier("a.b"); got != `"a"."b"` {
		t.Errorf("unexpected dotted quoting: %s", got)
	}
}
