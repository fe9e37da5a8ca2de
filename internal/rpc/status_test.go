package rpc

import (
	"encoding/json"
	"testing"
)

func TestTxExecutionStatusOrder(t *testing.T) {
	order := []TxExecutionStatus{
		StatusNone, StatusIncluded, StatusExecutedOptimistic,
		StatusIncludedFinal, StatusExecuted, StatusFinal,
	}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%v rank %d not below %v rank %d", order[i-1], order[i-1].Rank(), order[i], order[i].Rank())
		}
	}
	for _, observed := range order {
		for _, requested := range order {
			want := observed.Rank() >= requested.Rank()
			if got := observed.AtLeast(requested); got != want {
				t.Errorf("%v.AtLeast(%v) = %v, want %v", observed, requested, got, want)
			}
		}
	}
}

func TestTxExecutionStatusExecuted(t *testing.T) {
	tests := map[TxExecutionStatus]bool{
		StatusNone:               false,
		StatusIncluded:           false,
		StatusExecutedOptimistic: true,
		StatusIncludedFinal:      false,
		StatusExecuted:           true,
		StatusFinal:              true,
	}
	for s, want := range tests {
		if got := s.Executed(); got != want {
			t.Errorf("%v.Executed() = %v, want %v", s, got, want)
		}
	}
}

func TestParseTxExecutionStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    TxExecutionStatus
		wantErr bool
	}{
		{"EXECUTED_OPTIMISTIC", StatusExecutedOptimistic, false},
		{"executed-optimistic", StatusExecutedOptimistic, false},
		{" final ", StatusFinal, false},
		{"INCLUDED_FINAL", StatusIncludedFinal, false},
		{"none", StatusNone, false},
		{"ExecutedSoon", StatusNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTxExecutionStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTxExecutionStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTxExecutionStatus(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTxExecutionStatusInvalidString(t *testing.T) {
	if got := TxExecutionStatus(42).String(); got != "TxExecutionStatus(42)" {
		t.Errorf("String() = %q", got)
	}
	if _, err := json.Marshal(TxExecutionStatus(42)); err == nil {
		t.Error("Marshal of invalid status should fail")
	}
}

func TestExecutionStatusDecode(t *testing.T) {
	tests := []struct {
		in      string
		kind    StepStatusKind
		success bool
		wantErr bool
	}{
		{`"Unknown"`, StepUnknown, false, false},
		{`{"Failure": {"ActionError": {"index": 0}}}`, StepFailure, false, false},
		{`{"SuccessValue": "AQ=="}`, StepSuccessValue, true, false},
		{`{"SuccessReceiptId": "r1"}`, StepSuccessReceiptID, true, false},
		{`{"Pending": null}`, "", false, true},
		{`{"SuccessValue": "", "Failure": {}}`, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var s ExecutionStatus
			err := json.Unmarshal([]byte(tt.in), &s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if s.Kind != tt.kind || s.Success() != tt.success {
				t.Errorf("got %+v success=%v, want kind %s success=%v", s, s.Success(), tt.kind, tt.success)
			}
		})
	}
}

func TestFinalExecutionStatusDecode(t *testing.T) {
	tests := []struct {
		in      string
		kind    FinalStatusKind
		success bool
	}{
		{`"NotStarted"`, FinalNotStarted, false},
		{`"Started"`, FinalStarted, false},
		{`{"Failure": {"InvalidTxError": "InvalidNonce"}}`, FinalFailure, false},
		{`{"SuccessValue": ""}`, FinalSuccessValue, true},
	}
	for _, tt := range tests {
		var s FinalExecutionStatus
		if err := json.Unmarshal([]byte(tt.in), &s); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tt.in, err)
		}
		if s.Kind != tt.kind || s.Success() != tt.success {
			t.Errorf("Unmarshal(%s) = %+v", tt.in, s)
		}
	}
}
