// Package sqlsafe validates SQL identifiers before they reach any query
// builder. Validation happens once, at node construction, so no public API
// can emit SQL containing an unchecked identifier.
package sqlsafe

import (
	"regexp"
	"strings"

	"mindcore/internal/fault"
)

// MaxIdentifierLength is the longest accepted identifier, dots included.
const MaxIdentifierLength = 255

// identifierPattern accepts bare names and up to two dotted qualifiers
// (schema.table.column).
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*){0,2}$`)

// blocklist holds keywords that must never appear as a whole identifier,
// compared case-insensitively. Dotted identifiers are checked per segment.
var blocklist = map[string]struct{}{
	"select": {}, "insert": {}, "update": {}, "delete": {}, "drop": {},
	"create": {}, "alter": {}, "truncate": {}, "union": {}, "join": {},
	"where": {}, "from": {}, "into": {}, "exec": {}, "execute": {},
	"attach": {}, "detach": {}, "pragma": {}, "vacuum": {}, "reindex": {},
	"grant": {}, "revoke": {}, "commit": {}, "rollback": {}, "savepoint": {},
	"begin": {}, "transaction": {}, "replace": {}, "having": {}, "order": {},
	"group": {}, "limit": {}, "offset": {}, "cast": {}, "case": {},
	"null": {}, "table": {}, "index": {}, "trigger": {}, "view": {},
}

// hostile substrings that disqualify a candidate outright.
var hostileFragments = []string{"--", "/*", "*/", ";", "'", `"`, "`", "\x00"}

// ValidateIdentifier rejects any candidate that could alter the meaning of
// generated SQL. Pure function, no allocation on the accept path beyond the
// lowercase segment comparison.
func ValidateIdentifier(name string) error {
	const op = "sqlsafe.ValidateIdentifier"

	if name == "" {
		return fault.New(fault.ErrInvalidIdentifier, op, "empty identifier")
	}
	if len(name) > MaxIdentifierLength {
		return fault.New(fault.ErrInvalidIdentifier, op, "identifier exceeds %d bytes", MaxIdentifierLength)
	}
	for _, frag := range hostileFragments {
		if strings.Contains(name, frag) {
			return fault.New(fault.ErrInvalidIdentifier, op, "identifier contains forbidden sequence %q", frag)
		}
	}
	if !identifierPattern.MatchString(name) {
		return fault.New(fault.ErrInvalidIdentifier, op, "identifier %q is not a valid SQL name", name)
	}
	for _, segment := range strings.Split(name, ".") {
		if _, blocked := blocklist[strings.ToLower(segment)]; blocked {
			return fault.New(fault.ErrInvalidIdentifier, op, "identifier segment %q is a reserved word", segment)
		}
	}
	return nil
}

// QuoteIdentifier wraps a pre-validated identifier in double quotes, doubling
// any embedded quote. Callers must have run ValidateIdentifier first; quoting
// is belt-and-suspenders for the dialect layer.
func QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
