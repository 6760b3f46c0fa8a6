package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"mindcore/internal/logging"
)

// Priority ranks an index recommendation.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// IndexRecommendation is one suggested covering index.
type IndexRecommendation struct {
	Table         string
	Columns       []string
	Kind          string // btree | hash | unique
	Reason        string
	Priority      Priority
	EstimatedGain float64 // fraction of observed query time addressed
}

// AutoIndexer analyzes the capture ring against the live schema and
// recommends covering indexes. Duplicate recommendations merge, keeping the
// highest priority.
type AutoIndexer struct {
	conn *Conn
	intr *Introspector
}

// NewAutoIndexer wires the analyzer to a connection and introspector.
func NewAutoIndexer(conn *Conn, intr *Introspector) *AutoIndexer {
	return &AutoIndexer{conn: conn, intr: intr}
}

var (
	wherePattern   = regexp.MustCompile(`(?i)\bWHERE\s+"?([A-Za-z_][A-Za-z0-9_]*)"?(?:\."?([A-Za-z_][A-Za-z0-9_]*)"?)?\s*=\s*\?`)
	joinPattern    = regexp.MustCompile(`(?i)\bJOIN\s+"?([A-Za-z_][A-Za-z0-9_]*)"?\s+(?:AS\s+\S+\s+)?ON\s+\S+\s*=\s*"?([A-Za-z_][A-Za-z0-9_]*)"?\."?([A-Za-z_][A-Za-z0-9_]*)"?`)
	orderByPattern = regexp.MustCompile(`(?i)\bORDER\s+BY\s+"?([A-Za-z_][A-Za-z0-9_]*)"?.*\bLIMIT\b`)
	groupByPattern = regexp.MustCompile(`(?i)\bGROUP\s+BY\s+([^;]+?)(?:\bORDER\b|\bLIMIT\b|$)`)
)

// Analyze inspects the current ring contents and produces merged
// recommendations sorted by priority descending.
func (a *AutoIndexer) Analyze(ctx context.Context) ([]IndexRecommendation, error) {
	timer := logging.StartTimer(logging.CategoryQuery, "AutoIndexer.Analyze")
	defer timer.Stop()

	schema, err := a.intr.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	indexed := schema.IndexedColumns()
	queries := a.conn.Capture().Snapshot()

	merged := make(map[string]IndexRecommendation)
	add := func(rec IndexRecommendation) {
		key := rec.Table + ":" + strings.Join(rec.Columns, ",")
		if existing, ok := merged[key]; ok {
			if rec.Priority > existing.Priority {
				existing.Priority = rec.Priority
				existing.Reason = rec.Reason
			}
			existing.EstimatedGain += rec.EstimatedGain
			merged[key] = existing
			return
		}
		merged[key] = rec
	}

	hasIndex := func(table, column string) bool {
		cols, ok := indexed[table]
		return ok && cols[column]
	}
	knownTable := func(table string) bool { return schema.Find(table) != nil }

	for _, q := range queries {
		sqlUp := q.NormalizedSQL

		// Equality predicate on an unindexed column.
		if m := wherePattern.FindStringSubmatch(sqlUp); m != nil {
			table, column := q.Table, m[1]
			if m[2] != "" {
				table, column = m[1], m[2]
			}
			if table != "" && knownTable(table) && !hasIndex(table, column) {
				add(IndexRecommendation{
					Table:         table,
					Columns:       []string{column},
					Kind:          "btree",
					Reason:        fmt.Sprintf("equality filter on %s.%s without a leading index", table, column),
					Priority:      PriorityMedium,
					EstimatedGain: 0.4,
				})
			}
		}

		// Join on an unindexed right-hand column.
		if m := joinPattern.FindStringSubmatch(sqlUp); m != nil {
			rhsTable, rhsColumn := m[2], m[3]
			if knownTable(rhsTable) && !hasIndex(rhsTable, rhsColumn) {
				add(IndexRecommendation{
					Table:         rhsTable,
					Columns:       []string{rhsColumn},
					Kind:          "btree",
					Reason:        fmt.Sprintf("join predicate on %s.%s without an index", rhsTable, rhsColumn),
					Priority:      PriorityHigh,
					EstimatedGain: 0.6,
				})
			}
		}

		// ORDER BY ... LIMIT on an unindexed column.
		if m := orderByPattern.FindStringSubmatch(sqlUp); m != nil {
			column := m[1]
			if q.Table != "" && knownTable(q.Table) && !hasIndex(q.Table, column) {
				add(IndexRecommendation{
					Table:         q.Table,
					Columns:       []string{column},
					Kind:          "btree",
					Reason:        fmt.Sprintf("ORDER BY %s with LIMIT scans without an index", column),
					Priority:      PriorityMedium,
					EstimatedGain: 0.3,
				})
			}
		}

		// GROUP BY prefix composite.
		if m := groupByPattern.FindStringSubmatch(sqlUp); m != nil && q.Table != "" && knownTable(q.Table) {
			var cols []string
			for _, c := range strings.Split(m[1], ",") {
				c = strings.Trim(strings.TrimSpace(c), `"`)
				if c != "" && !strings.ContainsAny(c, "() ") {
					cols = append(cols, c)
				}
			}
			if len(cols) > 1 && !hasIndex(q.Table, cols[0]) {
				add(IndexRecommendation{
					Table:         q.Table,
					Columns:       cols,
					Kind:          "btree",
					Reason:        fmt.Sprintf("GROUP BY (%s) benefits from a composite prefix index", strings.Join(cols, ", ")),
					Priority:      PriorityMedium,
					EstimatedGain: 0.3,
				})
			}
		}
	}

	out := make([]IndexRecommendation, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Table < out[j].Table
	})

	logging.Get(logging.CategoryQuery).Info("auto-indexer produced %d recommendations from %d captured queries",
		len(out), len(queries))
	return out, nil
}

// DDL renders the CREATE INDEX statement for a recommendation. The name is
// deterministic so re-application is idempotent via IF NOT EXISTS.
func (rec IndexRecommendation) DDL() string {
	unique := ""
	if rec.Kind == "unique" {
		unique = "UNIQUE "
	}
	name := fmt.Sprintf("idx_%s_%s", rec.Table, strings.Join(rec.Columns, "_"))
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s(%s)",
		unique, name, rec.Table, strings.Join(rec.Columns, ", "))
}
