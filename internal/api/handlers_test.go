package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/transfa/issuance-service/internal/app"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "1000000000000000000", want: "1000000000000000000"},
		{input: " 42 ", want: "42"},
		{input: "0", want: "0"},
		{input: "", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "1.5", wantErr: true},
		{input: "abc", wantErr: true},
		{input: "0x10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestWriteEngineErrorStatusMapping(t *testing.T) {
	h := &IssuanceHandlers{}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "zero amount", err: app.ErrZeroAmount, want: http.StatusBadRequest},
		{name: "invalid fee", err: app.ErrInvalidFee, want: http.StatusBadRequest},
		{name: "insufficient balance", err: app.ErrInsufficientBalance, want: http.StatusPaymentRequired},
		{name: "paused", err: app.ErrSystemPaused, want: http.StatusServiceUnavailable},
		{name: "unauthorized", err: app.ErrUnauthorized, want: http.StatusForbidden},
		{name: "duplicate", err: app.ErrDuplicateRequest, want: http.StatusConflict},
		{name: "reentrant", err: app.ErrReentrantCall, want: http.StatusConflict},
		{name: "oracle", err: app.ErrOraclePriceInvalid, want: http.StatusBadGateway},
		{name: "transfer", err: app.ErrTransferFailed, want: http.StatusBadGateway},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeEngineError(rec, "test", "acc_test", tt.err)
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestWriteEngineErrorSetsRetryAfter(t *testing.T) {
	h := &IssuanceHandlers{}
	rec := httptest.NewRecorder()

	h.writeEngineError(rec, "test", "acc_test", &app.RateLimitedError{RetryAfterSeconds: 17})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "17" {
		t.Fatalf("expected Retry-After 17, got %q", got)
	}
}
