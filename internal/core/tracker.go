package core

import (
	"sync"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

// StageTracker follows the current stage and progress of a run. The stage
// persists across lines without one and is cleared when the run finishes.
type StageTracker struct {
	mu       sync.Mutex
	current  api.Stage
	progress int
	stages   []api.Stage
	onChange func(stage api.Stage, progress int)
}

// NewStageTracker returns a tracker that calls onChange, if non-nil, each
// time the stage or progress changes.
func NewStageTracker(onChange func(stage api.Stage, progress int)) *StageTracker {
	return &StageTracker{onChange: onChange}
}

func (t *StageTracker) StateChanged(string, api.RunState, api.RunState) {}

func (t *StageTracker) EventClassified(_ string, ev api.OutputEvent) {
	t.mu.Lock()
	changed := false
	if ev.Stage != api.StageNone && ev.Stage != t.current {
		t.current = ev.Stage
		t.stages = append(t.stages, ev.Stage)
		changed = true
	}
	if ev.Progress != nil && *ev.Progress != t.progress {
		t.progress = *ev.Progress
		changed = true
	}
	stage, progress := t.current, t.progress
	t.mu.Unlock()
	if changed && t.onChange != nil {
		t.onChange(stage, progress)
	}
}

func (t *StageTracker) RunFinished(*api.DeploymentOutcome) {
	t.mu.Lock()
	changed := t.current != api.StageNone
	if changed {
		t.current = api.StageNone
		t.stages = append(t.stages, api.StageNone)
	}
	t.mu.Unlock()
	if changed && t.onChange != nil {
		t.onChange(api.StageNone, t.Progress())
	}
}

// Current returns the active stage.
func (t *StageTracker) Current() api.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Progress returns the last reported percentage.
func (t *StageTracker) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Stages returns every stage entered, in order. A cleared stage appears as
// api.StageNone.
func (t *StageTracker) Stages() []api.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]api.Stage(nil), t.stages...)
}
