package domain

import "testing"

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestHashRequest(t *testing.T) {
	a := HashRequest("POST /orders", []byte(`{"customer_id":"c-1"}`))
	b := HashRequest("POST /orders", []byte(`{"customer_id":"c-1"}`))
	if a != b {
		t.Fatalf("hash must be deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
	if c := HashRequest("POST /customers", []byte(`{"customer_id":"c-1"}`)); c == a {
		t.Fatal("route must be part of the hash")
	}
	if d := HashRequest("POST /orders", []byte(`{"customer_id":"c-2"}`)); d == a {
		t.Fatal("body must be part of the hash")
	}
}
