package pipeline

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/index"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

// SourceStatus reports freshness for one configured source.
type SourceStatus struct {
	ID          string        `json:"id"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	LastSuccess time.Time     `json:"last_success,omitempty"`
	Age         time.Duration `json:"age,omitempty"`
	Stale       bool          `json:"stale"`
}

// Status is a point-in-time view of the pipeline and the live index.
type Status struct {
	State   State            `json:"state"`
	Index   *index.Stats     `json:"index,omitempty"`
	LastRun *store.RunRecord `json:"last_run,omitempty"`
	Sources []SourceStatus   `json:"sources"`
}

// Status reports the current pipeline state, live index stats, the last run
// record, and per-source staleness.
func (p *Pipeline) Status() Status {
	p.stateMu.Lock()
	st := Status{State: p.state, LastRun: p.lastRun}
	p.stateMu.Unlock()

	if live := p.deps.Engine.Live(); live != nil {
		stats := live.Stats()
		st.Index = &stats
	}

	states, err := p.deps.Store.ListSourceStates()
	if err != nil {
		p.logger.Error("loading source state for status", zap.Error(err))
		states = nil
	}

	now := time.Now().UTC()
	for _, spec := range p.deps.Sources() {
		ss := SourceStatus{ID: spec.ID}
		if state, ok := states[spec.ID]; ok {
			ss.Fingerprint = state.Fingerprint
			ss.LastSuccess = state.LastSuccess
			ss.Age = now.Sub(state.LastSuccess)
			ss.Stale = p.cfg.StaleAfter > 0 && ss.Age > p.cfg.StaleAfter
		} else {
			// Never successfully indexed.
			ss.Stale = true
		}
		st.Sources = append(st.Sources, ss)
	}
	sort.Slice(st.Sources, func(i, j int) bool { return st.Sources[i].ID < st.Sources[j].ID })
	return st
}
