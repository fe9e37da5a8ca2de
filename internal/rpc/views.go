package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TxResponse is the result of send_tx. Outcome is nil when the node answered at a
// level that carries no execution result (NONE, INCLUDED, INCLUDED_FINAL).
type TxResponse struct {
	FinalExecutionStatus TxExecutionStatus
	Outcome              *FinalExecutionOutcome
}

// FinalExecutionOutcome is the execution result of a transaction and its receipts.
type FinalExecutionOutcome struct {
	Status             FinalExecutionStatus `json:"status"`
	TransactionHash    string               `json:"-"`
	TransactionOutcome OutcomeWithID        `json:"transaction_outcome"`
	ReceiptsOutcome    []OutcomeWithID      `json:"receipts_outcome"`
}

// OutcomeWithID is one execution step (the transaction conversion or a receipt).
type OutcomeWithID struct {
	ID      string           `json:"id"`
	Outcome ExecutionOutcome `json:"outcome"`
}

// ExecutionOutcome carries the status of one step.
type ExecutionOutcome struct {
	Status     ExecutionStatus `json:"status"`
	GasBurnt   uint64          `json:"gas_burnt"`
	ExecutorID string          `json:"executor_id"`
}

// UnmarshalJSON decodes the send_tx result. The execution fields sit next to
// final_execution_status at the top level and are absent below executed levels.
func (r *TxResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		FinalExecutionStatus TxExecutionStatus `json:"final_execution_status"`
		Status               json.RawMessage   `json:"status"`
		Transaction          *struct {
			Hash string `json:"hash"`
		} `json:"transaction"`
		TransactionOutcome OutcomeWithID   `json:"transaction_outcome"`
		ReceiptsOutcome    []OutcomeWithID `json:"receipts_outcome"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.FinalExecutionStatus = raw.FinalExecutionStatus
	r.Outcome = nil
	if len(raw.Status) == 0 || bytes.Equal(raw.Status, []byte("null")) {
		return nil
	}
	out := &FinalExecutionOutcome{
		TransactionOutcome: raw.TransactionOutcome,
		ReceiptsOutcome:    raw.ReceiptsOutcome,
	}
	if err := json.Unmarshal(raw.Status, &out.Status); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if raw.Transaction != nil {
		out.TransactionHash = raw.Transaction.Hash
	}
	r.Outcome = out
	return nil
}

// FinalStatusKind enumerates the top-level transaction status.
type FinalStatusKind string

const (
	FinalNotStarted   FinalStatusKind = "NotStarted"
	FinalStarted      FinalStatusKind = "Started"
	FinalFailure      FinalStatusKind = "Failure"
	FinalSuccessValue FinalStatusKind = "SuccessValue"
)

// FinalExecutionStatus is the top-level status: a bare string for NotStarted and
// Started, a single-key object for Failure and SuccessValue.
type FinalExecutionStatus struct {
	Kind    FinalStatusKind
	Value   string          // base64 return value for SuccessValue
	Failure json.RawMessage // error payload for Failure
}

// Success reports whether the transaction finished successfully.
func (s FinalExecutionStatus) Success() bool { return s.Kind == FinalSuccessValue }

func (s FinalExecutionStatus) String() string {
	if s.Kind == FinalFailure {
		return fmt.Sprintf("Failure(%s)", string(s.Failure))
	}
	return string(s.Kind)
}

func (s *FinalExecutionStatus) UnmarshalJSON(data []byte) error {
	kind, payload, err := decodeTagged(data)
	if err != nil {
		return err
	}
	switch FinalStatusKind(kind) {
	case FinalNotStarted, FinalStarted:
		*s = FinalExecutionStatus{Kind: FinalStatusKind(kind)}
	case FinalFailure:
		*s = FinalExecutionStatus{Kind: FinalFailure, Failure: payload}
	case FinalSuccessValue:
		var v string
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("SuccessValue: %w", err)
		}
		*s = FinalExecutionStatus{Kind: FinalSuccessValue, Value: v}
	default:
		return fmt.Errorf("unknown final execution status %q", kind)
	}
	return nil
}

// StepStatusKind enumerates the status of a single execution step.
type StepStatusKind string

const (
	StepUnknown          StepStatusKind = "Unknown"
	StepFailure          StepStatusKind = "Failure"
	StepSuccessValue     StepStatusKind = "SuccessValue"
	StepSuccessReceiptID StepStatusKind = "SuccessReceiptId"
)

// ExecutionStatus is the status of one step.
type ExecutionStatus struct {
	Kind    StepStatusKind
	Value   string // return value or receipt id
	Failure json.RawMessage
}

// Success reports whether the step belongs to the success subset.
func (s ExecutionStatus) Success() bool {
	return s.Kind == StepSuccessValue || s.Kind == StepSuccessReceiptID
}

func (s ExecutionStatus) String() string {
	if s.Kind == StepFailure {
		return fmt.Sprintf("Failure(%s)", string(s.Failure))
	}
	return string(s.Kind)
}

func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	kind, payload, err := decodeTagged(data)
	if err != nil {
		return err
	}
	switch StepStatusKind(kind) {
	case StepUnknown:
		*s = ExecutionStatus{Kind: StepUnknown}
	case StepFailure:
		*s = ExecutionStatus{Kind: StepFailure, Failure: payload}
	case StepSuccessValue, StepSuccessReceiptID:
		var v string
		if err := json.Unmarshal(payload, &v); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		*s = ExecutionStatus{Kind: StepStatusKind(kind), Value: v}
	default:
		return fmt.Errorf("unknown execution status %q", kind)
	}
	return nil
}

// decodeTagged splits an externally tagged enum: "Tag" or {"Tag": payload}.
func decodeTagged(data []byte) (string, json.RawMessage, error) {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		return tag, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, fmt.Errorf("decode tagged status: %w", err)
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("decode tagged status: want one key, got %d", len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, nil
}

// AccessKeyView is the result of a view_access_key query.
type AccessKeyView struct {
	Nonce       uint64          `json:"nonce"`
	Permission  json.RawMessage `json:"permission"`
	BlockHeight uint64          `json:"block_height"`
	BlockHash   string          `json:"block_hash"`
}

// BlockView is the subset of a block the tool needs.
type BlockView struct {
	Header struct {
		Height    uint64 `json:"height"`
		Hash      string `json:"hash"`
		Timestamp uint64 `json:"timestamp"`
	} `json:"header"`
}

// BlockReference selects a block either by finality or by id.
type BlockReference struct {
	Finality string `json:"finality,omitempty"`
	BlockID  any    `json:"block_id,omitempty"`
}

// FinalBlock references the latest final block.
func FinalBlock() BlockReference { return BlockReference{Finality: "final"} }
