package mmu

import (
	"context"

	"github.com/lexlapax/omegamem/pkg/errors"
	"github.com/lexlapax/omegamem/pkg/mem/consolidation"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
	"github.com/lexlapax/omegamem/pkg/scripting"
)

const (
	// beforeEncodeFuncName is called with the content summary and importance
	// before a record is stored. Returning false vetoes the store; returning
	// a table with a numeric importance overrides it.
	beforeEncodeFuncName = "before_encode"

	// beforeRetrieveFuncName is called with the query; a returned table may
	// change k, min_importance and tiers.
	beforeRetrieveFuncName = "before_retrieve"

	// afterConsolidateFuncName observes each consolidation report.
	afterConsolidateFuncName = "after_consolidate"
)

// ErrVetoed is returned by Encode when the before_encode hook rejects a
// record. It is errors.ErrVetoed.
var ErrVetoed = errors.ErrVetoed

// callHook runs a hook when scripting is enabled and the script defines it.
// Hook failures are logged and treated as "no opinion".
func (m *MMU) callHook(ctx context.Context, name string, arg interface{}) (interface{}, bool) {
	if !m.config.EnableLuaHooks || m.scripts == nil || !m.scripts.HasFunction(name) {
		return nil, false
	}
	result, err := m.scripts.ExecuteFunction(ctx, name, arg)
	if err != nil {
		if !errors.Is(err, scripting.ErrFunctionNotFound) {
			m.logger.Warn("Error calling Lua hook", "hook", name, "error", err)
		}
		return nil, false
	}
	return result, true
}

func (m *MMU) beforeEncode(ctx context.Context, content record.Content, importance float64) (float64, error) {
	result, ok := m.callHook(ctx, beforeEncodeFuncName, map[string]interface{}{
		"kind":       content.Kind.String(),
		"text":       content.Summary(summaryLimit),
		"importance": importance,
	})
	if !ok {
		return importance, nil
	}
	switch r := result.(type) {
	case bool:
		if !r {
			m.logger.Debug("Record vetoed by Lua hook", "kind", content.Kind.String())
			return 0, errors.Wrap(ErrVetoed, "%s content", content.Kind)
		}
	case map[string]interface{}:
		if v, ok := r["importance"].(float64); ok {
			importance = v
		}
	}
	return importance, nil
}

func (m *MMU) beforeRetrieve(ctx context.Context, q Query) Query {
	tiers := make([]interface{}, len(q.Tiers))
	for i, o := range q.Tiers {
		tiers[i] = int(o)
	}
	result, ok := m.callHook(ctx, beforeRetrieveFuncName, map[string]interface{}{
		"text":           q.Text,
		"k":              q.K,
		"min_importance": q.MinImportance,
		"tiers":          tiers,
	})
	if !ok {
		return q
	}
	r, isMap := result.(map[string]interface{})
	if !isMap {
		return q
	}
	if k, ok := r["k"].(float64); ok && k >= 1 {
		q.K = int(k)
	}
	if v, ok := r["min_importance"].(float64); ok {
		q.MinImportance = v
	}
	if ts, ok := r["tiers"].([]interface{}); ok {
		q.Tiers = q.Tiers[:0:0]
		for _, t := range ts {
			if n, ok := t.(float64); ok {
				q.Tiers = append(q.Tiers, tier.Ordinal(n))
			}
		}
	}
	return q
}

func (m *MMU) afterConsolidate(ctx context.Context, rep consolidation.Report) {
	m.callHook(ctx, afterConsolidateFuncName, map[string]interface{}{
		"promoted":  rep.Promoted,
		"evicted":   rep.Evicted,
		"displaced": rep.Displaced,
		"anomalies": len(rep.Anomalies),
		"compacted": rep.Compacted,
		"duration":  rep.Duration,
	})
}
