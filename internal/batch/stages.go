// Package batch drives whole directory trees of contracts through the
// engine: a worker pool sized by memory budget, a per-document state
// machine, periodic checkpoints, and one explicit outcome per input file.
package batch

import (
	"fmt"

	"github.com/contratta/contratta/internal/record"
)

// Stage names the steps of the per-document state machine. Every document
// either reaches StageScored or fails at a named stage; there is no silent
// drop.
type Stage string

const (
	StageOpened           Stage = "OPENED"
	StageClassified       Stage = "CLASSIFIED"
	StageStrategySelected Stage = "STRATEGY_SELECTED"
	StageFieldsExtracted  Stage = "FIELDS_EXTRACTED"
	StageMultiExpanded    Stage = "MULTI_EXPANDED"
	StageSingle           Stage = "SINGLE"
	StageValidated        Stage = "VALIDATED"
	StageScored           Stage = "SCORED"
	StageFailed           Stage = "FAILED"
)

// Failure is the structured outcome of a document the engine could not
// process. Err is stored as text so checkpoints stay serializable.
type Failure struct {
	File  string `json:"arquivo"`
	Stage Stage  `json:"etapa"`
	Err   string `json:"erro"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed at %s: %s", f.File, f.Stage, f.Err)
}

// Result is the outcome for one input file: records or a failure.
type Result struct {
	File    string           `json:"arquivo"`
	Stage   Stage            `json:"etapa"`
	Records []*record.Record `json:"registros,omitempty"`
	Failure *Failure         `json:"falha,omitempty"`
}

// Summary aggregates a finished (or deadline-cut) run.
type Summary struct {
	RunID       string    `json:"execucao"`
	Processed   int       `json:"processados"`
	Accepted    int       `json:"aceitos"`
	NeedsReview int       `json:"revisao_manual"`
	Failures    []Failure `json:"falhas,omitempty"`
	Results     []Result  `json:"resultados"`
}

// tally folds one result into the summary counters.
func (s *Summary) tally(r Result) {
	s.Processed++
	if r.Failure != nil {
		s.Failures = append(s.Failures, *r.Failure)
		return
	}
	for _, rec := range r.Records {
		if rec.NeedsReview {
			s.NeedsReview++
		} else {
			s.Accepted++
		}
	}
}
