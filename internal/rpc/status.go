package rpc

import (
	"fmt"
	"strings"
)

// TxExecutionStatus is the completion level a submission waits for, or the level the
// network reports having reached. Levels are totally ordered by Rank.
type TxExecutionStatus int

const (
	// StatusNone: the transaction was accepted for processing, nothing more.
	StatusNone TxExecutionStatus = iota
	// StatusIncluded: included in a block that is not yet final.
	StatusIncluded
	// StatusExecutedOptimistic: included and executed in non-final blocks.
	StatusExecutedOptimistic
	// StatusIncludedFinal: included in a final block, execution pending.
	StatusIncludedFinal
	// StatusExecuted: included in a final block and all non-refund receipts executed.
	StatusExecuted
	// StatusFinal: every block carrying the transaction and its receipts is final.
	StatusFinal
)

var statusNames = [...]string{
	StatusNone:               "NONE",
	StatusIncluded:           "INCLUDED",
	StatusExecutedOptimistic: "EXECUTED_OPTIMISTIC",
	StatusIncludedFinal:      "INCLUDED_FINAL",
	StatusExecuted:           "EXECUTED",
	StatusFinal:              "FINAL",
}

// Rank returns the position of s in the completion order.
// The declaration order above is the order, but callers compare ranks, never raw values.
func (s TxExecutionStatus) Rank() int {
	switch s {
	case StatusNone:
		return 0
	case StatusIncluded:
		return 1
	case StatusExecutedOptimistic:
		return 2
	case StatusIncludedFinal:
		return 3
	case StatusExecuted:
		return 4
	case StatusFinal:
		return 5
	default:
		return -1
	}
}

// AtLeast reports whether s has reached the requested level.
func (s TxExecutionStatus) AtLeast(requested TxExecutionStatus) bool {
	return s.Rank() >= requested.Rank()
}

// Executed reports whether this level implies a terminal execution outcome.
func (s TxExecutionStatus) Executed() bool {
	switch s {
	case StatusExecutedOptimistic, StatusExecuted, StatusFinal:
		return true
	default:
		return false
	}
}

func (s TxExecutionStatus) String() string {
	if s.Rank() < 0 {
		return fmt.Sprintf("TxExecutionStatus(%d)", int(s))
	}
	return statusNames[s]
}

// ParseTxExecutionStatus parses a wire name (case-insensitive, '-' accepted for '_').
func ParseTxExecutionStatus(s string) (TxExecutionStatus, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, name := range statusNames {
		if name == norm {
			return TxExecutionStatus(i), nil
		}
	}
	return StatusNone, fmt.Errorf("unknown tx execution status %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s TxExecutionStatus) MarshalText() ([]byte, error) {
	if s.Rank() < 0 {
		return nil, fmt.Errorf("invalid tx execution status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TxExecutionStatus) UnmarshalText(b []byte) error {
	v, err := ParseTxExecutionStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
