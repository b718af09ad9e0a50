// Package grading implements the submission lifecycle. The functions here only
// mutate the values they are given; callers hold the submission's row lock and
// persist the result.
package grading

import (
	"fmt"
	"slices"
	"time"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
)

// Effect reports what a transition did to a submission.
type Effect struct {
	Changed bool
	// Rescore is set when the submission entered a terminal status or its
	// terminal outcome changed. The owning participation must be recomputed.
	Rescore bool
}

// Compiled applies the judge's compilation report. A report arriving after
// grading started, or after a terminal status, is ignored.
func Compiled(sub *model.Submission, ok bool, errText string, now time.Time) Effect {
	switch sub.Status {
	case model.StatusQueued:
		if ok {
			sub.Status = model.StatusCompiled
			return Effect{Changed: true}
		}
	case model.StatusCompiled:
		if ok {
			return Effect{}
		}
	default:
		return Effect{}
	}

	compileError(sub, errText, now)
	return Effect{Changed: true, Rescore: true}
}

func compileError(sub *model.Submission, errText string, now time.Time) {
	res := model.ResultCompileError
	zero := 0.0
	sub.Status = model.StatusCompileError
	sub.Result = &res
	sub.Points = &zero
	sub.Time = nil
	sub.Memory = nil
	if errText != "" {
		sub.Error = &errText
	}
	sub.GradedAt = &now
}

// Case records one test case result and returns the submission's new case set.
// Cases keep being recorded while a submission is aborted, so a judge that
// finishes anyway reports its final outcome over every case. A case arriving
// after completion regrades the submission. Compile and internal errors ignore
// further cases.
func Case(sub *model.Submission, problem *model.Problem, cases []model.SubmissionTestCase, tc model.SubmissionTestCase) ([]model.SubmissionTestCase, Effect, error) {
	if err := validateCase(tc); err != nil {
		return cases, Effect{}, err
	}
	switch sub.Status {
	case model.StatusCompileError, model.StatusInternalError:
		return cases, Effect{}, nil
	}

	tc.SubmissionID = sub.ID
	out := make([]model.SubmissionTestCase, 0, len(cases)+1)
	replaced := false
	for _, c := range cases {
		if c.Case == tc.Case {
			if c == tc {
				return cases, Effect{}, nil
			}
			out = append(out, tc)
			replaced = true
			continue
		}
		out = append(out, c)
	}
	if !replaced {
		out = append(out, tc)
	}
	slices.SortFunc(out, func(a, b model.SubmissionTestCase) int { return a.Case - b.Case })

	if problem.ShortCircuit {
		out = dropAfterFirstFailure(out)
	}

	switch sub.Status {
	case model.StatusAborted:
		return out, Effect{Changed: true}, nil
	case model.StatusCompleted:
		prevResult, prevPoints := *sub.Result, sub.Points
		res := WorstResult(out)
		sub.Result = &res
		applyCaseTotals(sub, problem, out)
		rescore := res != prevResult || prevPoints == nil || *prevPoints != *sub.Points
		return out, Effect{Changed: true, Rescore: rescore}, nil
	}

	sub.Status = model.StatusGrading
	applyCaseTotals(sub, problem, out)
	return out, Effect{Changed: true}, nil
}

func validateCase(tc model.SubmissionTestCase) error {
	if tc.Case < 1 {
		return fmt.Errorf("%w: case index must be positive", common.ErrValidation)
	}
	if !tc.Result.IsCaseResult() {
		return fmt.Errorf("%w: %q is not a test case result", common.ErrValidation, tc.Result)
	}
	if tc.Total < 0 || tc.Points < 0 || tc.Points > tc.Total {
		return fmt.Errorf("%w: case points %v out of range [0, %v]", common.ErrValidation, tc.Points, tc.Total)
	}
	return nil
}

// dropAfterFirstFailure expects cases sorted by index.
func dropAfterFirstFailure(cases []model.SubmissionTestCase) []model.SubmissionTestCase {
	for i, c := range cases {
		if !c.Passed() {
			return cases[:i+1]
		}
	}
	return cases
}

// Final applies the judge's terminal report. The last terminal report wins;
// repeating one that is already applied changes nothing. A completion without
// any case result is an internal error.
func Final(sub *model.Submission, problem *model.Problem, cases []model.SubmissionTestCase, status model.SubmissionStatus, now time.Time) (Effect, error) {
	if status == model.StatusCompleted && len(cases) == 0 {
		status = model.StatusInternalError
	}
	switch status {
	case model.StatusCompleted:
		res := WorstResult(cases)
		points := CasePoints(problem, cases)
		if sub.Status == status && sub.Result != nil && *sub.Result == res &&
			sub.Points != nil && *sub.Points == points {
			return Effect{}, nil
		}
		sub.Status = status
		sub.Result = &res
		applyCaseTotals(sub, problem, cases)
		sub.GradedAt = &now

	case model.StatusCompileError:
		if sub.Status == status {
			return Effect{}, nil
		}
		compileError(sub, "", now)

	case model.StatusInternalError:
		if sub.Status == status {
			return Effect{}, nil
		}
		res := model.ResultInternalError
		sub.Status = status
		sub.Result = &res
		sub.Points = nil
		sub.GradedAt = &now

	default:
		return Effect{}, fmt.Errorf("%w: %q is not a terminal report", common.ErrInvalidTransition, status)
	}
	return Effect{Changed: true, Rescore: true}, nil
}

// Abort moves an ungraded submission to the aborted status. It returns false
// for a submission that already reached a terminal status.
func Abort(sub *model.Submission, now time.Time) bool {
	if sub.Status.IsTerminal() {
		return false
	}
	res := model.ResultAborted
	sub.Status = model.StatusAborted
	sub.Result = &res
	sub.Points = nil
	sub.GradedAt = &now
	return true
}

// Rejudge resets a graded submission to the queue. The caller deletes its case rows.
func Rejudge(sub *model.Submission) error {
	if !sub.Status.IsTerminal() {
		return fmt.Errorf("%w: submission %s is still being judged", common.ErrInvalidTransition, sub.ID)
	}
	sub.Status = model.StatusQueued
	sub.Result = nil
	sub.Points = nil
	sub.Time = nil
	sub.Memory = nil
	sub.Error = nil
	sub.JudgedBy = nil
	sub.GradedAt = nil
	return nil
}

// WorstResult is the most severe case outcome, Accepted when nothing failed.
func WorstResult(cases []model.SubmissionTestCase) model.Result {
	worst := model.ResultAccepted
	for _, c := range cases {
		if c.Result.Severity() > worst.Severity() {
			worst = c.Result
		}
	}
	return worst
}

// CasePoints derives a submission's points from its cases. Partial problems
// award the case sum capped at the problem's points; other problems award full
// points only when every case passed.
func CasePoints(problem *model.Problem, cases []model.SubmissionTestCase) float64 {
	if problem.Partial {
		var sum float64
		for _, c := range cases {
			sum += c.Points
		}
		return min(sum, problem.Points)
	}
	if len(cases) == 0 {
		return 0
	}
	for _, c := range cases {
		if !c.Passed() {
			return 0
		}
	}
	return problem.Points
}

func applyCaseTotals(sub *model.Submission, problem *model.Problem, cases []model.SubmissionTestCase) {
	var total, memory float64
	for _, c := range cases {
		total += c.Time
		memory = max(memory, c.Memory)
	}
	points := CasePoints(problem, cases)
	sub.Time = &total
	sub.Memory = &memory
	sub.Points = &points
}
