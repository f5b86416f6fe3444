package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"consult-platform/internal/metering"
	"consult-platform/internal/recovery"
	"consult-platform/internal/reporting"
	"consult-platform/internal/session"
	"consult-platform/internal/signaling"
	"consult-platform/internal/tips"
	"consult-platform/internal/topup"
	"consult-platform/internal/wallet"
)

func TestStatusFor_MapsServiceErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{session.ErrNotFound, http.StatusNotFound},
		{signaling.ErrInvalidRequest, http.StatusBadRequest},
		{tips.ErrInvalidArgument, http.StatusBadRequest},
		{wallet.ErrInvalidArgument, http.StatusBadRequest},
		{reporting.ErrInvalidRequest, http.StatusBadRequest},
		{signaling.ErrNotParticipant, http.StatusForbidden},
		{recovery.ErrNotParticipant, http.StatusForbidden},
		{tips.ErrNotPayer, http.StatusForbidden},
		{signaling.ErrCalleeUnavailable, http.StatusConflict},
		{signaling.ErrAlreadyInCall, http.StatusConflict},
		{signaling.ErrTransportFailure, http.StatusConflict},
		{tips.ErrSessionNotActive, http.StatusConflict},
		{metering.ErrSessionNotActive, http.StatusConflict},
		{wallet.ErrInsufficientFunds, http.StatusPaymentRequired},
		{topup.ErrPaymentDeclined, http.StatusPaymentRequired},
		{errors.New("database on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusFor_WrappedErrorsStillMap(t *testing.T) {
	err := fmt.Errorf("accept call: %w", signaling.ErrAlreadyInCall)
	if got := statusFor(err); got != http.StatusConflict {
		t.Fatalf("wrapped error mapped to %d, want 409", got)
	}
}
