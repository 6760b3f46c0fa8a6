package qnode

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mindcore/internal/sqlsafe"
)

// Dialect renders a node tree into SQL text plus an ordered parameter list.
type Dialect interface {
	// Name reports the dialect identifier (embedded, networked).
	Name() string
	// Render produces {sql_text, params} for a statement node.
	Render(n Node) (string, []interface{}, error)
	// Placeholder returns the parameter marker for 1-based position i.
	Placeholder(i int) string
	// BoolLiteral renders a boolean constant.
	BoolLiteral(v bool) string
	// AutoIncrement returns the primary-key auto-increment column clause.
	AutoIncrement() string
}

// Embedded renders for the in-process SQLite engine: `?` placeholders,
// 0/1 booleans, INTEGER PRIMARY KEY AUTOINCREMENT.
type Embedded struct{}

// Networked renders for the PostgreSQL wire dialect: `$N` placeholders,
// TRUE/FALSE literals, BIGSERIAL keys.
type Networked struct{}

func (Embedded) Name() string  { return "embedded" }
func (Networked) Name() string { return "networked" }

func (Embedded) Placeholder(int) string { return "?" }
func (Networked) Placeholder(i int) string {
	return "$" + strconv.Itoa(i)
}

func (Embedded) BoolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
func (Networked) BoolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (Embedded) AutoIncrement() string  { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (Networked) AutoIncrement() string { return "BIGSERIAL PRIMARY KEY" }

func (d Embedded) Render(n Node) (string, []interface{}, error)  { return render(d, n) }
func (d Networked) Render(n Node) (string, []interface{}, error) { return render(d, n) }

type renderState struct {
	dialect Dialect
	sb      strings.Builder
	params  []interface{}
}

func (r *renderState) bind(v interface{}) {
	r.params = append(r.params, v)
	r.sb.WriteString(r.dialect.Placeholder(len(r.params)))
}

func render(d Dialect, n Node) (string, []interface{}, error) {
	r := &renderState{dialect: d}
	if err := r.emit(n); err != nil {
		return "", nil, err
	}
	return r.sb.String(), r.params, nil
}

func (r *renderState) emit(n Node) error {
	switch v := n.(type) {
	case IdentifierNode:
		r.sb.WriteString(sqlsafe.QuoteIdentifier(v.Name))
	case TableNode:
		r.sb.WriteString(sqlsafe.QuoteIdentifier(v.Name))
		if v.Alias != "" {
			r.sb.WriteString(" AS ")
			r.sb.WriteString(sqlsafe.QuoteIdentifier(v.Alias))
		}
	case ColumnNode:
		if v.Table != "" {
			r.sb.WriteString(sqlsafe.QuoteIdentifier(v.Table))
			r.sb.WriteByte('.')
		}
		r.sb.WriteString(sqlsafe.QuoteIdentifier(v.Name))
	case ValueNode:
		r.bind(v.Value)
	case RawNode:
		r.sb.WriteString(v.SQL)
	case BinaryNode:
		if err := r.emit(v.Left); err != nil {
			return err
		}
		r.sb.WriteByte(' ')
		r.sb.WriteString(v.Op)
		r.sb.WriteByte(' ')
		return r.emit(v.Right)
	case SelectNode:
		return r.emitSelect(v)
	case InsertNode:
		return r.emitInsert(v)
	case UpdateNode:
		return r.emitUpdate(v)
	case DeleteNode:
		return r.emitDelete(v)
	default:
		return fmt.Errorf("qnode: unsupported node type %T", n)
	}
	return nil
}

func (r *renderState) emitSelect(s SelectNode) error {
	r.sb.WriteString("SELECT ")
	for i, c := range s.Columns {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		if err := r.emit(c); err != nil {
			return err
		}
	}
	r.sb.WriteString(" FROM ")
	if err := r.emit(s.From); err != nil {
		return err
	}
	for _, j := range s.Joins {
		r.sb.WriteByte(' ')
		r.sb.WriteString(j.Kind)
		r.sb.WriteString(" JOIN ")
		if err := r.emit(j.Table); err != nil {
			return err
		}
		r.sb.WriteString(" ON ")
		if err := r.emit(j.On); err != nil {
			return err
		}
	}
	if s.Where != nil {
		r.sb.WriteString(" WHERE ")
		if err := r.emit(s.Where); err != nil {
			return err
		}
	}
	if len(s.GroupBy) > 0 {
		r.sb.WriteString(" GROUP BY ")
		for i, c := range s.GroupBy {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			if err := r.emit(c); err != nil {
				return err
			}
		}
	}
	if len(s.OrderBy) > 0 {
		r.sb.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			if err := r.emit(o.Column); err != nil {
				return err
			}
			if o.Desc {
				r.sb.WriteString(" DESC")
			}
		}
	}
	if s.Limit != nil {
		r.sb.WriteString(" LIMIT ")
		r.bind(*s.Limit)
	}
	if s.Offset != nil {
		r.sb.WriteString(" OFFSET ")
		r.bind(*s.Offset)
	}
	return nil
}

func (r *renderState) emitInsert(ins InsertNode) error {
	if ins.Replace {
		r.sb.WriteString("INSERT OR REPLACE INTO ")
	} else {
		r.sb.WriteString("INSERT INTO ")
	}
	if err := r.emit(ins.Table); err != nil {
		return err
	}
	r.sb.WriteString(" (")
	for i, c := range ins.Columns {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		if err := r.emit(c); err != nil {
			return err
		}
	}
	r.sb.WriteString(") VALUES (")
	for i, v := range ins.Values {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		if err := r.emit(v); err != nil {
			return err
		}
	}
	r.sb.WriteByte(')')
	return nil
}

func (r *renderState) emitUpdate(u UpdateNode) error {
	r.sb.WriteString("UPDATE ")
	if err := r.emit(u.Table); err != nil {
		return err
	}
	r.sb.WriteString(" SET ")
	// Deterministic output regardless of map iteration upstream.
	set := make([]Assignment, len(u.Set))
	copy(set, u.Set)
	sort.Slice(set, func(i, j int) bool { return set[i].Column.Name < set[j].Column.Name })
	for i, a := range set {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		if err := r.emit(a.Column); err != nil {
			return err
		}
		r.sb.WriteString(" = ")
		if err := r.emit(a.Value); err != nil {
			return err
		}
	}
	if u.Where != nil {
		r.sb.WriteString(" WHERE ")
		return r.emit(u.Where)
	}
	return nil
}

func (r *renderState) emitDelete(d DeleteNode) error {
	r.sb.WriteString("DELETE FROM ")
	if err := r.emit(d.Table); err != nil {
		return err
	}
	if d.Where != nil {
		r.sb.WriteString(" WHERE ")
		return r.emit(d.Where)
	}
	return nil
}
