package core

import (
	"encoding/json"
	"testing"
)

func TestComputeRequestHash_Deterministic(t *testing.T) {
	body := json.RawMessage(`{"input_data":{"amount":100},"triggered_by":"alice"}`)
	h1 := ComputeRequestHash(body, "POST", "/v1/definitions/def-1/executions")
	h2 := ComputeRequestHash(body, "POST", "/v1/definitions/def-1/executions")
	if h1 != h2 {
		t.Fatalf("same input produced different hashes: %s vs %s", h1, h2)
	}
}

func TestComputeRequestHash_KeyOrderIrrelevant(t *testing.T) {
	body1 := json.RawMessage(`{"triggered_by":"alice","input_data":{"amount":100,"currency":"USD"}}`)
	body2 := json.RawMessage(`{"input_data":{"currency":"USD","amount":100},"triggered_by":"alice"}`)
	h1 := ComputeRequestHash(body1, "POST", "/v1/definitions/def-1/executions")
	h2 := ComputeRequestHash(body2, "POST", "/v1/definitions/def-1/executions")
	if h1 != h2 {
		t.Fatalf("different key order produced different hashes: %s vs %s", h1, h2)
	}
}

func TestComputeRequestHash_DifferentBody(t *testing.T) {
	body1 := json.RawMessage(`{"triggered_by":"alice"}`)
	body2 := json.RawMessage(`{"triggered_by":"bob"}`)
	h1 := ComputeRequestHash(body1, "POST", "/v1/definitions/def-1/executions")
	h2 := ComputeRequestHash(body2, "POST", "/v1/definitions/def-1/executions")
	if h1 == h2 {
		t.Fatal("different bodies produced same hash")
	}
}

func TestComputeRequestHash_DifferentPath(t *testing.T) {
	body := json.RawMessage(`{"triggered_by":"alice"}`)
	h1 := ComputeRequestHash(body, "POST", "/v1/definitions/def-1/executions")
	h2 := ComputeRequestHash(body, "POST", "/v1/definitions/def-2/executions")
	if h1 == h2 {
		t.Fatal("different paths produced same hash")
	}
}
