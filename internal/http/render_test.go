package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindInvalidInput, http.StatusUnprocessableEntity},
		{apperr.KindUnauthenticated, http.StatusUnauthorized},
		{apperr.KindUnauthorized, http.StatusForbidden},
		{apperr.KindUnverified, http.StatusForbidden},
		{apperr.KindDisabled, http.StatusForbidden},
		{apperr.KindPremiumRequired, http.StatusForbidden},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindAlreadyExists, http.StatusConflict},
		{apperr.KindAlreadyConnected, http.StatusConflict},
		{apperr.KindNotConnected, http.StatusConflict},
		{apperr.KindPaymentFailed, http.StatusPaymentRequired},
		{apperr.KindRateLimited, http.StatusTooManyRequests},
		{apperr.KindBanned, http.StatusTooManyRequests},
		{apperr.KindTimeout, http.StatusGatewayTimeout},
		{apperr.KindNoCapacity, http.StatusServiceUnavailable},
		{apperr.KindAddressExhausted, http.StatusServiceUnavailable},
		{apperr.KindDependencyDown, http.StatusServiceUnavailable},
		{apperr.KindInternal, http.StatusInternalServerError},
		{apperr.Kind("SOMETHING_NEW"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.kind))
		})
	}
}
