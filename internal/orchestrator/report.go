package orchestrator

import (
	"sort"
	"time"

	"github.com/stackforge-io/stackforge/internal/run"
	"github.com/stackforge-io/stackforge/internal/state"
)

// StageReport is the journal's account of one stage. Timestamps cover the
// stage's last attempt; a stage re-queued after a crash reports its re-run.
type StageReport struct {
	Name       string          `json:"name"`
	Status     run.StageStatus `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Duration   time.Duration   `json:"duration,omitempty"`
	Artifacts  []string        `json:"artifacts,omitempty"`
}

// RunReport is one run reconstructed from durable state for presentation.
// Stages appear in the order they first reached the journal.
type RunReport struct {
	ID            string            `json:"id"`
	Pipeline      string            `json:"pipeline"`
	Environment   string            `json:"environment"`
	Status        run.Status        `json:"status"`
	Policy        run.FailurePolicy `json:"policy"`
	PreSnapshotID string            `json:"preSnapshotId,omitempty"`
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    *time.Time        `json:"finishedAt,omitempty"`
	Stages        []StageReport     `json:"stages"`
}

// DeployResult is what Deploy and Resume hand back.
type DeployResult struct {
	// Plan groups the selected stages into dependency layers in dispatch
	// order.
	Plan [][]string `json:"plan"`

	// Run reports the executed run. Dry runs execute nothing and leave it
	// nil.
	Run *RunReport `json:"run,omitempty"`

	// RestoredTo names the snapshot the environment was rolled back to
	// after a failed run, when restore-on-failure applied.
	RestoredTo string `json:"restoredTo,omitempty"`
}

func buildRunReport(st *state.RunState) *RunReport {
	rep := &RunReport{
		ID:            st.Record.ID,
		Pipeline:      st.Record.Pipeline,
		Environment:   st.Record.Environment,
		Status:        st.Record.Status,
		Policy:        st.Record.Policy,
		PreSnapshotID: st.Record.PreSnapshotID,
		StartedAt:     st.Record.StartedAt,
		FinishedAt:    st.Record.FinishedAt,
	}

	byStage := make(map[string]*StageReport)
	var order []string
	stageFor := func(name string) *StageReport {
		if sr, ok := byStage[name]; ok {
			return sr
		}
		sr := &StageReport{Name: name, Status: run.StagePending}
		byStage[name] = sr
		order = append(order, name)
		return sr
	}

	for _, t := range st.History {
		sr := stageFor(t.Stage)
		sr.Status = t.To
		if t.Reason != "" {
			sr.Reason = t.Reason
		}
		switch {
		case t.To == run.StageRunning:
			// A fresh attempt supersedes the previous one, including the
			// reason that ended it.
			at := t.At
			sr.StartedAt = &at
			sr.FinishedAt = nil
			sr.Duration = 0
			sr.Reason = ""
		case t.To.Terminal():
			at := t.At
			sr.FinishedAt = &at
			if sr.StartedAt != nil {
				sr.Duration = at.Sub(*sr.StartedAt)
			}
		}
	}

	for _, a := range st.Artifacts {
		sr := stageFor(a.Producer)
		sr.Artifacts = append(sr.Artifacts, a.Name)
	}

	for _, name := range order {
		sr := byStage[name]
		sort.Strings(sr.Artifacts)
		rep.Stages = append(rep.Stages, *sr)
	}
	return rep
}
