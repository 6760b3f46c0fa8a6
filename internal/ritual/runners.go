package ritual

import (
	"context"
	"fmt"
	"time"

	"mindcore/internal/logging"
	"mindcore/internal/storage"
	"mindcore/internal/store"
)

// Built-in runners for the standard ritual types. The evolution runner
// lives with the pilot's owner (the façade wires it) since it needs the
// meta controller's current aggressiveness.

// compressionDef configures the compression runner.
type compressionDef struct {
	SessionID int64 `json:"session_id"`
	KeepTail  int   `json:"keep_tail"` // messages left uncompressed
}

// NewCompressionRunner compresses the uncompressed head of a session's
// message journal into an epoch, keeping the most recent KeepTail messages
// intact.
func NewCompressionRunner(st *store.Store, summarize store.Summarizer) Runner {
	return func(ctx context.Context, r store.Ritual) error {
		var def compressionDef
		if err := definition(r, &def); err != nil {
			return err
		}
		if def.KeepTail <= 0 {
			def.KeepTail = 20
		}

		sessions := []int64{def.SessionID}
		if def.SessionID == 0 {
			var err error
			sessions, err = activeSessionIDs(ctx, st)
			if err != nil {
				return err
			}
		}

		for _, sid := range sessions {
			msgs, err := st.Messages(ctx, sid, 0)
			if err != nil {
				return err
			}
			epochs, err := st.Epochs(ctx, sid)
			if err != nil {
				return err
			}
			var compressedThrough int64
			if len(epochs) > 0 {
				compressedThrough = epochs[len(epochs)-1].EndMessageID
			}

			// Candidates: committed messages past the last epoch, minus the tail.
			var pending []store.Message
			for _, m := range msgs {
				if m.ID > compressedThrough {
					pending = append(pending, m)
				}
			}
			if len(pending) <= def.KeepTail {
				continue
			}
			head := pending[:len(pending)-def.KeepTail]
			if _, err := st.CompressRange(ctx, sid, head[0].ID, head[len(head)-1].ID, summarize); err != nil {
				return err
			}
		}
		return nil
	}
}

// pruningDef configures the pruning runner.
type pruningDef struct {
	MaxConfidence float64 `json:"max_confidence"`
	OlderThanDays int     `json:"older_than_days"`
	Vacuum        bool    `json:"vacuum"`
}

// NewPruningRunner deletes stale low-confidence knowledge and optionally
// reclaims disk space.
func NewPruningRunner(st *store.Store, tuner *storage.Tuner) Runner {
	return func(ctx context.Context, r store.Ritual) error {
		def := pruningDef{MaxConfidence: 0.2, OlderThanDays: 90}
		if err := definition(r, &def); err != nil {
			return err
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -def.OlderThanDays)
		pruned, err := st.PruneKnowledge(ctx, def.MaxConfidence, cutoff)
		if err != nil {
			return err
		}
		logging.Get(logging.CategoryRitual).Info("pruning ritual removed %d items", pruned)
		if def.Vacuum && pruned > 0 {
			return tuner.Vacuum(ctx)
		}
		return nil
	}
}

// NewReindexRunner analyzes the capture ring and applies high-priority
// recommendations when auto-indexing is enabled, then refreshes planner
// statistics.
func NewReindexRunner(indexer *storage.AutoIndexer, tuner *storage.Tuner, conn *storage.Conn, autoApply bool) Runner {
	return func(ctx context.Context, r store.Ritual) error {
		recs, err := indexer.Analyze(ctx)
		if err != nil {
			return err
		}
		if autoApply {
			for _, rec := range recs {
				if rec.Priority < storage.PriorityHigh {
					continue
				}
				if _, err := conn.Exec(ctx, rec.DDL()); err != nil {
					return err
				}
				logging.Get(logging.CategoryRitual).Info("applied index recommendation: %s", rec.Reason)
			}
		}
		return tuner.Analyze(ctx)
	}
}

// NewProbeRunner executes every registered logic probe's script as a
// single-row query (read-only access is not enforced) and compares the first scanned value against the expected
// outcome. A probe mismatch fails the ritual after all probes ran.
func NewProbeRunner(st *store.Store, conn *storage.Conn) Runner {
	return func(ctx context.Context, r store.Ritual) error {
		probes, err := st.Probes(ctx)
		if err != nil {
			return err
		}
		var failures int
		for _, p := range probes {
			status := runProbe(ctx, conn, p)
			if status != "passed" {
				failures++
			}
			if err := st.RecordProbeRun(ctx, p.Name, status, time.Now().UTC()); err != nil {
				return err
			}
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d probes failed", failures, len(probes))
		}
		return nil
	}
}

func runProbe(ctx context.Context, conn *storage.Conn, p store.LogicProbe) string {
	var got string
	if err := conn.DB.QueryRowContext(ctx, p.Script).Scan(&got); err != nil {
		logging.Get(logging.CategoryRitual).Warn("probe %s errored: %v", p.Name, err)
		return "error"
	}
	if p.ExpectedOutcome != nil && got != *p.ExpectedOutcome {
		logging.Get(logging.CategoryRitual).Warn("probe %s expected %q, got %q", p.Name, *p.ExpectedOutcome, got)
		return "failed"
	}
	return "passed"
}

func activeSessionIDs(ctx context.Context, st *store.Store) ([]int64, error) {
	rows, err := st.Conn().Query(ctx, "SELECT id FROM agent_sessions WHERE status = 'active' ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
