package tenant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expire  time.Time
		want    bool
	}{
		{"past expiry is expired", now.Add(-time.Hour), true},
		{"exact now is expired", now, true},
		{"future expiry is not expired", now.Add(time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isExpired(tt.expire, now))
		})
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, daysRemaining(now.Add(12*time.Hour), now))
	assert.Equal(t, 2, daysRemaining(now.Add(25*time.Hour), now))
	assert.Equal(t, 30, daysRemaining(now.Add(30*24*time.Hour), now))
}

func TestCachedResultRoundTrip(t *testing.T) {
	expire := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	original := &ValidationResult{
		Valid:         true,
		Expired:       false,
		DaysRemaining: 42,
		Store: &Record{
			StoreID:       "239",
			StoreName:     "Downtown",
			AppID:         "A",
			LicenseExpire: expire,
		},
	}

	encoded, err := encodeCachedResult(original)
	require.NoError(t, err)

	decoded, err := decodeCachedResult(encoded)
	require.NoError(t, err)

	assert.Equal(t, original.Valid, decoded.Valid)
	assert.Equal(t, original.DaysRemaining, decoded.DaysRemaining)
	require.NotNil(t, decoded.Store)
	assert.Equal(t, original.Store.StoreID, decoded.Store.StoreID)
	assert.True(t, original.Store.LicenseExpire.Equal(decoded.Store.LicenseExpire))
}

func TestCachedResultRoundTrip_NotFound(t *testing.T) {
	original := &ValidationResult{
		Valid:   false,
		Expired: true,
		Error:   "store not found or invalid app",
	}

	encoded, err := encodeCachedResult(original)
	require.NoError(t, err)

	decoded, err := decodeCachedResult(encoded)
	require.NoError(t, err)

	assert.False(t, decoded.Valid)
	assert.Nil(t, decoded.Store)
	assert.Equal(t, original.Error, decoded.Error)
}
