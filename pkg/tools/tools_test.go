package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type rateArgs struct {
	LoanAmount string `json:"loan_amount"`
	Language   string `json:"language,omitempty"`
	Months     int    `json:"months,omitempty"`
}

type rateOut struct {
	Rate float64 `json:"rate"`
}

func newRateTool() *Func[rateArgs, rateOut] {
	return NewFunc("get_rate", "Quote a rate", func(ctx context.Context, in rateArgs) (rateOut, error) {
		if in.LoanAmount == "0" {
			return rateOut{}, errors.New("amount too small")
		}
		return rateOut{Rate: 9.5}, nil
	})
}

func TestSchemaMarksRequiredFields(t *testing.T) {
	schema := newRateTool().Definition().Schema
	if len(schema.Required) != 1 || schema.Required[0] != "loan_amount" {
		t.Fatalf("expected loan_amount required, got %v", schema.Required)
	}
}

func TestValidate(t *testing.T) {
	schema := newRateTool().Definition().Schema
	cases := []struct {
		name string
		args string
		ok   bool
	}{
		{"valid", `{"loan_amount":"500000","language":"en"}`, true},
		{"missing required", `{"language":"en"}`, false},
		{"unknown key", `{"loan_amount":"1","colour":"red"}`, false},
		{"wrong type", `{"loan_amount":500000}`, false},
		{"integer", `{"loan_amount":"1","months":12}`, true},
		{"fractional integer", `{"loan_amount":"1","months":1.5}`, false},
		{"not an object", `["loan_amount"]`, false},
	}
	for _, tc := range cases {
		err := Validate(schema, json.RawMessage(tc.args))
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidArgs) {
			t.Fatalf("%s: expected ErrInvalidArgs, got %v", tc.name, err)
		}
	}
}

func TestFuncExecute(t *testing.T) {
	tool := newRateTool()
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"loan_amount":"100000"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != `{"rate":9.5}` {
		t.Fatalf("unexpected output %s", out)
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"loan_amount":`)); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("expected ErrInvalidArgs, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(newRateTool())
	if err := reg.Register(newRateTool()); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if _, ok := reg.Get("get_rate"); !ok {
		t.Fatalf("expected tool to be registered")
	}
	tools := reg.LLMTools()
	if len(tools) != 1 || tools[0].Name != "get_rate" || tools[0].Schema == nil {
		t.Fatalf("unexpected llm tools %+v", tools)
	}
}

func TestResultContent(t *testing.T) {
	r := Result{CallID: "c1", Name: "get_rate", Err: &ErrorResult{Kind: ErrorTimeout, Message: "deadline"}}
	if r.OK() {
		t.Fatalf("expected failure")
	}
	if r.Content() != `{"error":{"kind":"timeout","message":"deadline"}}` {
		t.Fatalf("unexpected content %s", r.Content())
	}
}
