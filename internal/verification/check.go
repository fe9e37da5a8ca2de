// Package verification checks send_tx responses and collects run outcomes.
package verification

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gateway-fm/txbench/internal/rpc"
)

// Severity selects what a check violation does to the run.
type Severity int

const (
	// SeverityLog warns about the violation and keeps going.
	SeverityLog Severity = iota
	// SeverityAssert aborts the run on the first violation.
	SeverityAssert
)

func (s Severity) String() string {
	switch s {
	case SeverityLog:
		return "log"
	case SeverityAssert:
		return "assert"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// ParseSeverity parses "log" or "assert".
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "log":
		return SeverityLog, nil
	case "assert":
		return SeverityAssert, nil
	default:
		return SeverityLog, fmt.Errorf("unknown severity %q (want log or assert)", s)
	}
}

// ViolationKind classifies a failed check.
type ViolationKind string

const (
	ViolationLevelShortfall ViolationKind = "level_shortfall"
	ViolationMissingOutcome ViolationKind = "missing_outcome"
	ViolationTxFailed       ViolationKind = "transaction_failed"
	ViolationStepFailed     ViolationKind = "step_failed"
)

// Violation is one failed check on one outcome.
type Violation struct {
	Index  int
	Signer string
	Nonce  uint64
	TxHash string
	Kind   ViolationKind
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
}

var (
	// ErrTransport marks a submission whose request failed. It is always fatal.
	ErrTransport = errors.New("transport error")
	// ErrViolation marks an aborted run under SeverityAssert.
	ErrViolation = errors.New("response check violation")
)

// ViolationError carries the violations of the outcome that aborted the run.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrViolation.Error()
	}
	v := e.Violations[0]
	msg := fmt.Sprintf("%v: item %d (%s nonce %d): %s", ErrViolation, v.Index, v.Signer, v.Nonce, v)
	if n := len(e.Violations); n > 1 {
		msg += fmt.Sprintf(" (and %d more)", n-1)
	}
	return msg
}

func (e *ViolationError) Unwrap() error { return ErrViolation }

// CheckResponse returns the violations of resp against the requested level:
//   - the reported level must rank at or above the requested one;
//   - at an executed level, the execution outcome must be present and successful;
//   - every execution step present must be in the success subset.
//
// The returned violations carry only Kind and Detail.
func CheckResponse(resp *rpc.TxResponse, requested rpc.TxExecutionStatus) []Violation {
	if resp == nil {
		return []Violation{{Kind: ViolationMissingOutcome, Detail: "no response"}}
	}

	var out []Violation
	observed := resp.FinalExecutionStatus
	if !observed.AtLeast(requested) {
		out = append(out, Violation{
			Kind:   ViolationLevelShortfall,
			Detail: fmt.Sprintf("reached %v, requested %v", observed, requested),
		})
	}

	outcome := resp.Outcome
	if outcome == nil {
		if observed.Executed() {
			out = append(out, Violation{
				Kind:   ViolationMissingOutcome,
				Detail: fmt.Sprintf("no execution outcome at %v", observed),
			})
		}
		return out
	}

	if observed.Executed() && !outcome.Status.Success() {
		out = append(out, Violation{
			Kind:   ViolationTxFailed,
			Detail: fmt.Sprintf("transaction status %v", outcome.Status),
		})
	}
	if s := outcome.TransactionOutcome.Outcome.Status; s.Kind != "" && !s.Success() {
		out = append(out, Violation{
			Kind:   ViolationStepFailed,
			Detail: fmt.Sprintf("transaction step %s: %v", outcome.TransactionOutcome.ID, s),
		})
	}
	for _, r := range outcome.ReceiptsOutcome {
		if !r.Outcome.Status.Success() {
			out = append(out, Violation{
				Kind:   ViolationStepFailed,
				Detail: fmt.Sprintf("receipt %s: %v", r.ID, r.Outcome.Status),
			})
		}
	}
	return out
}
