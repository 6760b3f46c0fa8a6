package qnode

// Builder helpers assemble common statement shapes without callers touching
// node internals. All identifier validation already happened in the node
// constructors, so these helpers only propagate errors.

// Eq builds `col = ?` with a bound value.
func Eq(col ColumnNode, value interface{}) BinaryNode {
	return BinaryNode{Op: "=", Left: col, Right: ValueNode{Value: value}}
}

// Gte builds `col >= ?`.
func Gte(col ColumnNode, value interface{}) BinaryNode {
	return BinaryNode{Op: ">=", Left: col, Right: ValueNode{Value: value}}
}

// Lte builds `col <= ?`.
func Lte(col ColumnNode, value interface{}) BinaryNode {
	return BinaryNode{Op: "<=", Left: col, Right: ValueNode{Value: value}}
}

// And combines predicates left-associatively; nil operands are skipped.
func And(preds ...Node) Node {
	var out Node
	for _, p := range preds {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = BinaryNode{Op: "AND", Left: out, Right: p}
	}
	return out
}

// SelectAll builds `SELECT * FROM table [WHERE pred]`.
func SelectAll(table string, pred Node) (SelectNode, error) {
	t, err := NewTable(table)
	if err != nil {
		return SelectNode{}, err
	}
	return SelectNode{
		Columns: []Node{RawNode{SQL: "*"}},
		From:    t,
		Where:   pred,
	}, nil
}

// InsertRow builds an insert for parallel column/value slices.
func InsertRow(table string, columns []string, values []interface{}) (InsertNode, error) {
	t, err := NewTable(table)
	if err != nil {
		return InsertNode{}, err
	}
	n := InsertNode{Table: t}
	for _, c := range columns {
		col, err := NewColumn("", c)
		if err != nil {
			return InsertNode{}, err
		}
		n.Columns = append(n.Columns, col)
	}
	for _, v := range values {
		n.Values = append(n.Values, ValueNode{Value: v})
	}
	return n, nil
}

// UpdateRow builds an update limited by a predicate.
func UpdateRow(table string, set map[string]interface{}, pred Node) (UpdateNode, error) {
	t, err := NewTable(table)
	if err != nil {
		return UpdateNode{}, err
	}
	n := UpdateNode{Table: t, Where: pred}
	for c, v := range set {
		col, err := NewColumn("", c)
		if err != nil {
			return UpdateNode{}, err
		}
		n.Set = append(n.Set, Assignment{Column: col, Value: ValueNode{Value: v}})
	}
	return n, nil
}

// DeleteRows builds a delete limited by a predicate.
func DeleteRows(table string, pred Node) (DeleteNode, error) {
	t, err := NewTable(table)
	if err != nil {
		return DeleteNode{}, err
	}
	return DeleteNode{Table: t, Where: pred}, nil
}
