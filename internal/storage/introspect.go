package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
	"mindcore/internal/sqlsafe"
)

// Column describes one column of a discovered table.
type Column struct {
	Name          string
	Type          string
	Nullable      bool
	Default       string
	PrimaryKey    bool
	AutoIncrement bool
}

// Index describes one index of a discovered table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// ForeignKey describes a declared FK edge.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  string
}

// Table is one discovered table with its full shape.
type Table struct {
	Name        string
	Columns     []Column
	Indexes     []Index
	ForeignKeys []ForeignKey
}

// Schema is the introspection result for a whole store.
type Schema struct {
	Tables []Table
	Views  []string
}

// Introspector enumerates the catalog via engine-native queries. Consumers:
// bootstrap idempotency, DNA serialization, the auto-indexer, and the
// external binding generator.
type Introspector struct {
	conn          *Conn
	excludeTables map[string]bool
	includeViews  bool
}

// NewIntrospector wraps a connection with the configured filters.
func NewIntrospector(conn *Conn, exclude []string, includeViews bool) *Introspector {
	ex := make(map[string]bool, len(exclude))
	for _, t := range exclude {
		ex[t] = true
	}
	return &Introspector{conn: conn, excludeTables: ex, includeViews: includeViews}
}

// Snapshot reads the complete schema. Tables come back name-sorted so two
// snapshots of an identical store compare equal.
func (in *Introspector) Snapshot(ctx context.Context) (*Schema, error) {
	timer := logging.StartTimer(logging.CategorySchema, "Introspector.Snapshot")
	defer timer.Stop()

	names, err := in.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	schema := &Schema{}
	for _, name := range names {
		if in.excludeTables[name] {
			continue
		}
		t, err := in.describeTable(ctx, name)
		if err != nil {
			return nil, err
		}
		schema.Tables = append(schema.Tables, *t)
	}

	if in.includeViews {
		views, err := in.viewNames(ctx)
		if err != nil {
			return nil, err
		}
		schema.Views = views
	}

	sort.Slice(schema.Tables, func(i, j int) bool { return schema.Tables[i].Name < schema.Tables[j].Name })
	sort.Strings(schema.Views)
	return schema, nil
}

// TableNames lists user tables, excluding engine-internal ones.
func (in *Introspector) TableNames(ctx context.Context) ([]string, error) {
	names, err := in.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if !in.excludeTables[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// Describe returns the shape of one table, or TableNotFound carrying the
// available catalog.
func (in *Introspector) Describe(ctx context.Context, name string) (*Table, error) {
	ok, err := in.HasTable(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		available, _ := in.TableNames(ctx)
		return nil, fault.TableNotFound("storage.Describe", name, available)
	}
	return in.describeTable(ctx, name)
}

// DescribeColumn confirms a column exists, or reports ColumnNotFound with
// the table's actual columns.
func (in *Introspector) DescribeColumn(ctx context.Context, table, column string) (*Column, error) {
	t, err := in.Describe(ctx, table)
	if err != nil {
		return nil, err
	}
	var available []string
	for i := range t.Columns {
		if t.Columns[i].Name == column {
			return &t.Columns[i], nil
		}
		available = append(available, t.Columns[i].Name)
	}
	return nil, fault.ColumnNotFound("storage.DescribeColumn", column, table, available)
}

// HasTable reports whether a table exists.
func (in *Introspector) HasTable(ctx context.Context, name string) (bool, error) {
	var count int
	err := in.conn.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasColumn reports whether a column exists on a table.
func (in *Introspector) HasColumn(ctx context.Context, table, column string) (bool, error) {
	t, err := in.describeTable(ctx, table)
	if err != nil {
		return false, err
	}
	for _, c := range t.Columns {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}

func (in *Introspector) tableNames(ctx context.Context) ([]string, error) {
	rows, err := in.conn.DB.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (in *Introspector) viewNames(ctx context.Context) ([]string, error) {
	rows, err := in.conn.DB.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'view' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (in *Introspector) describeTable(ctx context.Context, name string) (*Table, error) {
	if err := sqlsafe.ValidateIdentifier(name); err != nil {
		return nil, err
	}
	t := &Table{Name: name}

	// table_info: cid, name, type, notnull, dflt_value, pk
	rows, err := in.conn.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", sqlsafe.QuoteIdentifier(name)))
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var cid, notnull, pk int
		var cname, ctype string
		var dflt *string
		if err := rows.Scan(&cid, &cname, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, err
		}
		col := Column{
			Name:       cname,
			Type:       ctype,
			Nullable:   notnull == 0,
			PrimaryKey: pk > 0,
		}
		if dflt != nil {
			col.Default = *dflt
		}
		if col.PrimaryKey && strings.EqualFold(ctype, "INTEGER") {
			col.AutoIncrement = true
		}
		t.Columns = append(t.Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// index_list: seq, name, unique, origin, partial
	irows, err := in.conn.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", sqlsafe.QuoteIdentifier(name)))
	if err != nil {
		return nil, err
	}
	type idxMeta struct {
		name   string
		unique bool
	}
	var metas []idxMeta
	for irows.Next() {
		var seq, unique, partial int
		var iname, origin string
		if err := irows.Scan(&seq, &iname, &unique, &origin, &partial); err != nil {
			irows.Close()
			return nil, err
		}
		if strings.HasPrefix(iname, "sqlite_autoindex_") {
			continue
		}
		metas = append(metas, idxMeta{name: iname, unique: unique == 1})
	}
	irows.Close()
	if err := irows.Err(); err != nil {
		return nil, err
	}

	for _, m := range metas {
		idx := Index{Name: m.name, Unique: m.unique}
		crows, err := in.conn.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", sqlsafe.QuoteIdentifier(m.name)))
		if err != nil {
			return nil, err
		}
		for crows.Next() {
			var seqno, cid int
			var cname *string
			if err := crows.Scan(&seqno, &cid, &cname); err != nil {
				crows.Close()
				return nil, err
			}
			if cname != nil {
				idx.Columns = append(idx.Columns, *cname)
			}
		}
		crows.Close()
		t.Indexes = append(t.Indexes, idx)
	}
	sort.Slice(t.Indexes, func(i, j int) bool { return t.Indexes[i].Name < t.Indexes[j].Name })

	// foreign_key_list: id, seq, table, from, to, on_update, on_delete, match
	frows, err := in.conn.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", sqlsafe.QuoteIdentifier(name)))
	if err != nil {
		return nil, err
	}
	for frows.Next() {
		var id, seq int
		var refTable, from string
		var to *string
		var onUpdate, onDelete, match string
		if err := frows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			frows.Close()
			return nil, err
		}
		fk := ForeignKey{Column: from, RefTable: refTable, OnDelete: onDelete}
		if to != nil {
			fk.RefColumn = *to
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	frows.Close()
	return t, frows.Err()
}

// IndexedColumns returns, per table, the set of leading index columns.
// The auto-indexer uses this to decide whether a recommendation is needed.
func (s *Schema) IndexedColumns() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		cols := make(map[string]bool)
		for _, idx := range t.Indexes {
			if len(idx.Columns) > 0 {
				cols[idx.Columns[0]] = true
			}
		}
		out[t.Name] = cols
	}
	return out
}

// Find returns the named table, or nil.
func (s *Schema) Find(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}
