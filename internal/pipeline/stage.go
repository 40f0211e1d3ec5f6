package pipeline

// Stage is a state of the pipeline state machine:
//
//	Idle -> Scraping -> Comparing -> Bucketing -> Loading -> Idle
//	                 \___________\____________\_________\-> Failed
//
// Failed behaves like Idle for the purpose of starting the next run.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageScraping  Stage = "scraping"
	StageComparing Stage = "comparing"
	StageBucketing Stage = "bucketing"
	StageLoading   Stage = "loading"
	StageFailed    Stage = "failed"
)

// Stages lists every stage in order.
var Stages = []Stage{StageIdle, StageScraping, StageComparing, StageBucketing, StageLoading, StageFailed}

var transitions = map[Stage][]Stage{
	StageIdle:      {StageScraping},
	StageFailed:    {StageScraping},
	StageScraping:  {StageComparing, StageFailed},
	StageComparing: {StageBucketing, StageFailed},
	StageBucketing: {StageLoading, StageFailed},
	StageLoading:   {StageIdle, StageFailed},
}

// CanTransition reports whether to is a legal successor of s.
func (s Stage) CanTransition(to Stage) bool {
	for _, n := range transitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Active reports whether a run is in progress in this stage. The zero
// Stage is idle.
func (s Stage) Active() bool {
	return s != "" && s != StageIdle && s != StageFailed
}

func stageNames() []string {
	out := make([]string, len(Stages))
	for i, s := range Stages {
		out[i] = string(s)
	}
	return out
}
