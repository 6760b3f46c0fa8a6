package dna

import (
	"regexp"
	"strings"

	"mindcore/internal/fault"
	"mindcore/internal/sqlsafe"
)

// DDLKind enumerates the whitelisted autonomous DDL forms.
type DDLKind int

const (
	KindCreateTable DDLKind = iota
	KindCreateIndex
	KindAddColumn
	KindDropIndex
)

func (k DDLKind) String() string {
	switch k {
	case KindCreateTable:
		return "create_table"
	case KindCreateIndex:
		return "create_index"
	case KindAddColumn:
		return "add_column"
	case KindDropIndex:
		return "drop_index"
	}
	return "unknown"
}

// ParsedDDL is a whitelisted statement with its extracted identifiers.
type ParsedDDL struct {
	Kind   DDLKind
	Table  string
	Index  string
	Column string
}

var (
	createTablePattern = regexp.MustCompile(`(?is)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?"?([A-Za-z_][A-Za-z0-9_]*)"?\s*\(.*\)\s*;?\s*$`)
	createIndexPattern = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:UNIQUE\s+)?INDEX\s+(?:IF\s+NOT\s+EXISTS\s+)?"?([A-Za-z_][A-Za-z0-9_]*)"?\s+ON\s+"?([A-Za-z_][A-Za-z0-9_]*)"?\s*\([^)]+\)\s*;?\s*$`)
	addColumnPattern   = regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\s+"?([A-Za-z_][A-Za-z0-9_]*)"?\s+ADD\s+COLUMN\s+"?([A-Za-z_][A-Za-z0-9_]*)"?\s+.+?;?\s*$`)
	dropIndexPattern   = regexp.MustCompile(`(?is)^\s*DROP\s+INDEX\s+(?:IF\s+EXISTS\s+)?"?([A-Za-z_][A-Za-z0-9_]*)"?\s*;?\s*$`)
)

// ParseDDL accepts exactly the whitelisted forms: CREATE TABLE,
// CREATE [UNIQUE] INDEX, ALTER TABLE ADD COLUMN, DROP INDEX. Anything else
// fails with DDLNotAllowed. Extracted identifiers pass the validator so a
// hostile statement cannot smuggle text through the identifier positions.
func ParseDDL(ddl string) (*ParsedDDL, error) {
	const op = "dna.ParseDDL"

	if strings.Count(ddl, ";") > 1 || (strings.Count(ddl, ";") == 1 && !strings.HasSuffix(strings.TrimSpace(ddl), ";")) {
		return nil, fault.New(fault.ErrDDLNotAllowed, op, "compound statements are not allowed")
	}

	if m := createTablePattern.FindStringSubmatch(ddl); m != nil {
		p := &ParsedDDL{Kind: KindCreateTable, Table: m[1]}
		if err := sqlsafe.ValidateIdentifier(p.Table); err != nil {
			return nil, err
		}
		return p, nil
	}
	if m := createIndexPattern.FindStringSubmatch(ddl); m != nil {
		p := &ParsedDDL{Kind: KindCreateIndex, Index: m[1], Table: m[2]}
		if err := sqlsafe.ValidateIdentifier(p.Index); err != nil {
			return nil, err
		}
		if err := sqlsafe.ValidateIdentifier(p.Table); err != nil {
			return nil, err
		}
		return p, nil
	}
	if m := addColumnPattern.FindStringSubmatch(ddl); m != nil {
		p := &ParsedDDL{Kind: KindAddColumn, Table: m[1], Column: m[2]}
		if err := sqlsafe.ValidateIdentifier(p.Table); err != nil {
			return nil, err
		}
		if err := sqlsafe.ValidateIdentifier(p.Column); err != nil {
			return nil, err
		}
		return p, nil
	}
	if m := dropIndexPattern.FindStringSubmatch(ddl); m != nil {
		p := &ParsedDDL{Kind: KindDropIndex, Index: m[1]}
		if err := sqlsafe.ValidateIdentifier(p.Index); err != nil {
			return nil, err
		}
		return p, nil
	}

	return nil, fault.New(fault.ErrDDLNotAllowed, op, "statement is not a whitelisted DDL form")
}

// Inverse computes the reversing statement for a whitelisted DDL.
// DROP INDEX has no self-contained inverse (the original definition is not
// in the statement); callers read the original definition from the catalog
// instead (see Inverter.indexDefinition).
func (p *ParsedDDL) Inverse() (string, error) {
	switch p.Kind {
	case KindCreateTable:
		return "DROP TABLE IF EXISTS " + sqlsafe.QuoteIdentifier(p.Table), nil
	case KindCreateIndex:
		return "DROP INDEX IF EXISTS " + sqlsafe.QuoteIdentifier(p.Index), nil
	case KindAddColumn:
		// Modern embedded engines support DROP COLUMN; where they do not,
		// executing this inverse fails and Rollback reports MigrationFailed.
		return "ALTER TABLE " + sqlsafe.QuoteIdentifier(p.Table) + " DROP COLUMN " + sqlsafe.QuoteIdentifier(p.Column), nil
	case KindDropIndex:
		return "", fault.New(fault.ErrDDLNotAllowed, "dna.Inverse",
			"DROP INDEX cannot be inverted from the statement alone; read the definition from the catalog")
	}
	return "", fault.New(fault.ErrDDLNotAllowed, "dna.Inverse", "unknown DDL kind")
}
