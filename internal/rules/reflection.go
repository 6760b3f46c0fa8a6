package rules

import (
	"context"
	"fmt"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
	"mindcore/internal/store"
)

// Reflector condenses a terminated episode's actions into a reflection:
// outcome, lessons learned, and suggested follow-ups.
type Reflector struct {
	st *store.Store
}

// NewReflector wires the reflection engine.
func NewReflector(st *store.Store) *Reflector { return &Reflector{st: st} }

// Reflect reviews a closed episode's action journal and stores the derived
// reflection. Fails on episodes still active.
func (r *Reflector) Reflect(ctx context.Context, episodeID int64) (int64, error) {
	const op = "rules.Reflect"

	ep, err := r.st.GetEpisode(ctx, episodeID)
	if err != nil {
		return 0, err
	}
	if ep.Status != "closed" {
		return 0, fault.New(fault.ErrIntegrityViolation, op, "episode %d is still active", episodeID)
	}

	actions, err := r.st.Actions(ctx, ep.SessionID)
	if err != nil {
		return 0, err
	}

	var total, failures, pending int
	failedTools := map[string]int{}
	var slowest string
	var slowestMS int64
	for _, a := range actions {
		if a.CreatedAt.Before(ep.StartTime) {
			continue
		}
		if ep.EndTime != nil && a.CreatedAt.After(*ep.EndTime) {
			continue
		}
		total++
		switch a.Status {
		case "failure":
			failures++
			failedTools[a.ToolName]++
		case "pending":
			pending++
		}
		if a.DurationMS != nil && *a.DurationMS > slowestMS {
			slowestMS = *a.DurationMS
			slowest = a.ToolName
		}
	}

	outcome := "success"
	switch {
	case total == 0:
		outcome = "empty"
	case failures > total/2:
		outcome = "failure"
	case failures > 0:
		outcome = "mixed"
	}

	var lessons, suggestions []string
	for tool, n := range failedTools {
		lessons = append(lessons, fmt.Sprintf("%s failed %d time(s) during %q", tool, n, ep.Name))
		suggestions = append(suggestions, "review arguments and retry policy for "+tool)
	}
	if pending > 0 {
		lessons = append(lessons, fmt.Sprintf("%d action(s) were never finalized", pending))
		suggestions = append(suggestions, "finalize or abandon dangling actions before closing episodes")
	}
	if slowest != "" && slowestMS > 5000 {
		lessons = append(lessons, fmt.Sprintf("%s dominated latency at %dms", slowest, slowestMS))
	}

	id, err := r.st.AddReflection(ctx, ep.SessionID, &episodeID, outcome, lessons, suggestions)
	if err != nil {
		return 0, err
	}
	logging.Get(logging.CategorySession).Info("reflection %d recorded for episode %d (outcome=%s)", id, episodeID, outcome)
	return id, nil
}
