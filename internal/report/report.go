// Package report collects per-stage outcome counts, data quality warnings
// and per-item failures for a batch run.
package report

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
)

const (
	StageSchedule    = "schedule"
	StageMaterialize = "materialize"
	StageModify      = "modify"
	StageUpload      = "upload"
)

// Warning is a data quality issue that never blocks a run.
type Warning struct {
	Stage   string `json:"stage"`
	Item    string `json:"item,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.Item == "" {
		return fmt.Sprintf("[%s] %s", w.Stage, w.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", w.Stage, w.Item, w.Message)
}

// Failure is a single item that could not be processed.
type Failure struct {
	Stage string `json:"stage"`
	Item  string `json:"item"`
	Error string `json:"error"`
}

type Counts struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Summary is safe for concurrent use.
type Summary struct {
	mu       sync.Mutex
	runID    string
	order    []string
	stages   map[string]*Counts
	warnings []Warning
	failures []Failure
}

func NewSummary(runID string) *Summary {
	return &Summary{runID: runID, stages: make(map[string]*Counts)}
}

func (s *Summary) RunID() string {
	return s.runID
}

func (s *Summary) counts(stage string) *Counts {
	c, ok := s.stages[stage]
	if !ok {
		c = &Counts{}
		s.stages[stage] = c
		s.order = append(s.order, stage)
	}
	return c
}

func (s *Summary) Succeeded(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counts(stage)
	c.Attempted++
	c.Succeeded++
}

func (s *Summary) Skipped(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counts(stage)
	c.Attempted++
	c.Skipped++
}

func (s *Summary) Failed(stage, item string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counts(stage)
	c.Attempted++
	c.Failed++
	s.failures = append(s.failures, Failure{Stage: stage, Item: item, Error: err.Error()})
}

func (s *Summary) Warn(w ...Warning) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, w...)
}

// Stage returns a copy of the counts for stage.
func (s *Summary) Stage(stage string) Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.stages[stage]; ok {
		return *c
	}
	return Counts{}
}

func (s *Summary) Warnings() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Warning(nil), s.warnings...)
}

func (s *Summary) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure(nil), s.failures...)
}

// HasFailures reports whether any item failed in any stage.
func (s *Summary) HasFailures() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures) > 0
}

// Print writes the operator-facing summary table.
func (s *Summary) Print(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\n", s.runID)
	fmt.Fprintln(tw, "STAGE\tATTEMPTED\tSUCCEEDED\tSKIPPED\tFAILED")
	for _, stage := range s.order {
		c := s.stages[stage]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", stage, c.Attempted, c.Succeeded, c.Skipped, c.Failed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, warn := range s.warnings {
		fmt.Fprintf(w, "warning %s\n", warn)
	}
	for _, f := range s.failures {
		fmt.Fprintf(w, "failed [%s] %s: %s\n", f.Stage, f.Item, f.Error)
	}
	return nil
}
