// Package models contains shared data models used across the BeVisible codebase.
package models

// Stage identifies one step of the report pipeline. Stages execute in a fixed
// total order; a report's stage only ever moves forward through it.
type Stage string

const (
	StageQuery     Stage = "query"
	StageClassify  Stage = "classify"
	StageExtract   Stage = "extract"
	StageCompleted Stage = "completed"
)

// stageOrder is the full pipeline in execution order. StageCompleted is part
// of the order so that successor lookups terminate there; report failure is
// tracked on Report.Status, not as a stage.
var stageOrder = [...]Stage{StageQuery, StageClassify, StageExtract, StageCompleted}

// FirstStage returns the stage every new report starts at.
func FirstStage() Stage {
	return stageOrder[0]
}

// Next returns the stage that follows s in the pipeline. ok is false for
// StageCompleted and for values outside the pipeline.
func (s Stage) Next() (Stage, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Index returns s's position in the pipeline order, or -1 if s is not a
// pipeline stage. Useful for monotonicity checks.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a pipeline stage.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Terminal reports whether no further stage follows s.
func (s Stage) Terminal() bool {
	return s == StageCompleted
}
