package projection

import "github.com/cuemby/eventcore/pkg/event"

// Stage transforms or filters one event. A false second return drops the
// event from the pipeline; a non-nil error aborts the pipeline for this
// event (§4.10: operators are pure except enrich, which may read external
// state).
type Stage func(e *event.Event) (*event.Event, bool, error)

// FilterStage keeps only events for which pred returns true.
func FilterStage(pred func(*event.Event) bool) Stage {
	return func(e *event.Event) (*event.Event, bool, error) {
		if pred(e) {
			return e, true, nil
		}
		return nil, false, nil
	}
}

// MapStage transforms every event with fn.
func MapStage(fn func(*event.Event) *event.Event) Stage {
	return func(e *event.Event) (*event.Event, bool, error) {
		return fn(e), true, nil
	}
}

// EnrichStage transforms every event with fn, which may fail (e.g. an
// external lookup).
func EnrichStage(fn func(*event.Event) (*event.Event, error)) Stage {
	return func(e *event.Event) (*event.Event, bool, error) {
		out, err := fn(e)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
}

// Pipeline is an ordered, composable sequence of Stages (§4.10).
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a Pipeline from stages in application order.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Process runs e through every stage in order, stopping early if a stage
// drops the event or errors.
func (p *Pipeline) Process(e *event.Event) (*event.Event, bool, error) {
	for _, s := range p.stages {
		out, keep, err := s(e)
		if err != nil {
			return nil, false, err
		}
		if !keep {
			return nil, false, nil
		}
		e = out
	}
	return e, true, nil
}
