package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

func TestRequireUsable(t *testing.T) {
	tests := []struct {
		name     string
		sub      *models.Subscriber
		wantKind apperr.Kind
	}{
		{
			name: "active and verified passes",
			sub:  &models.Subscriber{IsActive: true, IsVerified: true},
		},
		{
			name:     "disabled account is refused",
			sub:      &models.Subscriber{IsActive: false, IsVerified: true},
			wantKind: apperr.KindDisabled,
		},
		{
			name:     "unverified account is refused",
			sub:      &models.Subscriber{IsActive: true, IsVerified: false},
			wantKind: apperr.KindUnverified,
		},
		{
			name:     "disabled wins over unverified",
			sub:      &models.Subscriber{IsActive: false, IsVerified: false},
			wantKind: apperr.KindDisabled,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := requireUsable(tc.sub)
			if tc.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tc.wantKind, apperr.KindOf(err))
		})
	}
}
