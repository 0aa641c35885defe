package tenant

import (
	"encoding/json"
	"time"
)

// cachedResult is the JSON wire shape stored in Redis for a validation
// answer. It mirrors ValidationResult but keeps LicenseExpire as a plain
// RFC3339 string to avoid coupling the cache codec to time.Time's JSON
// quirks across go-redis client versions.
type cachedResult struct {
	Valid         bool   `json:"valid"`
	Expired       bool   `json:"expired"`
	DaysRemaining int    `json:"daysRemaining"`
	Error         string `json:"error,omitempty"`

	StoreID       string `json:"storeId,omitempty"`
	StoreName     string `json:"storeName,omitempty"`
	AppID         string `json:"appId,omitempty"`
	LicenseExpire string `json:"licenseExpire,omitempty"`
}

func encodeCachedResult(result *ValidationResult) (string, error) {
	cr := cachedResult{
		Valid:         result.Valid,
		Expired:       result.Expired,
		DaysRemaining: result.DaysRemaining,
		Error:         result.Error,
	}
	if result.Store != nil {
		cr.StoreID = result.Store.StoreID
		cr.StoreName = result.Store.StoreName
		cr.AppID = result.Store.AppID
		cr.LicenseExpire = result.Store.LicenseExpire.Format(time.RFC3339)
	}

	data, err := json.Marshal(cr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCachedResult(raw string) (*ValidationResult, error) {
	var cr cachedResult
	if err := json.Unmarshal([]byte(raw), &cr); err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:         cr.Valid,
		Expired:       cr.Expired,
		DaysRemaining: cr.DaysRemaining,
		Error:         cr.Error,
	}
	if cr.AppID != "" {
		expire, err := time.Parse(time.RFC3339, cr.LicenseExpire)
		if err != nil {
			return nil, err
		}
		result.Store = &Record{
			StoreID:       cr.StoreID,
			StoreName:     cr.StoreName,
			AppID:         cr.AppID,
			LicenseExpire: expire,
		}
	}
	return result, nil
}
