// Package tenant implements the License/Tenant Service: the authoritative
// lookup over the tenant directory table that answers whether a (storeId,
// appId) pair is valid and unexpired, and which physical database it
// routes to.
package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
	"github.com/SamYueHW/advancedReport-server/internal/logger"
)

// Record is a snapshot of one row of the tenant directory. Column names
// mirror the legacy directory schema (AdvancedReportAppId /
// AdvancedReportLicenseExpire).
type Record struct {
	StoreID       string
	StoreName     string
	AppID         string
	LicenseExpire time.Time
}

// ValidationResult is the answer to Validate.
type ValidationResult struct {
	Valid         bool
	Expired       bool
	Store         *Record
	DaysRemaining int
	Error         string
}

// Config configures the tenant service's two backing stores: the directory
// database and the validation-result cache.
type Config struct {
	DirectoryDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
}

// Service is the License/Tenant Service.
type Service struct {
	db     *sql.DB
	cache  *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// New opens the directory database connection and the Redis cache client.
// Redis is optional: if it cannot be reached, the service degrades to
// always missing the cache rather than failing to start (the directory
// database remains the sole source of truth regardless).
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Service, error) {
	db, err := sql.Open("mysql", cfg.DirectoryDSN)
	if err != nil {
		return nil, fmt.Errorf("opening tenant directory connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging tenant directory: %w", err)
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := cache.Ping(ctx).Err(); err != nil {
			log.Warnf("license cache unreachable, disabling cache: %v", err)
			cache = nil
		}
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &Service{db: db, cache: cache, ttl: ttl, logger: log}, nil
}

// Validate answers whether (storeId, appId) is a valid, unexpired tenant.
// It never returns an error for "not found" — that is expressed as
// ValidationResult.Valid == false, with Expired also set to true so
// callers don't need a separate not-found branch.
func (s *Service) Validate(ctx context.Context, storeID, appID string) (*ValidationResult, error) {
	if cached, ok := s.lookupCache(ctx, storeID, appID); ok {
		return cached, nil
	}

	const query = `
		SELECT StoreId, StoreName, AdvancedReportAppId, AdvancedReportLicenseExpire
		FROM tenant_directory
		WHERE StoreId = ? AND AdvancedReportAppId = ?
		LIMIT 1`

	var rec Record
	row := s.db.QueryRowContext(ctx, query, storeID, appID)
	err := row.Scan(&rec.StoreID, &rec.StoreName, &rec.AppID, &rec.LicenseExpire)
	if err == sql.ErrNoRows {
		result := &ValidationResult{
			Valid:   false,
			Expired: true,
			Error:   "store not found or invalid app",
		}
		s.storeCache(ctx, storeID, appID, result)
		return result, nil
	}
	if err != nil {
		return nil, apperr.NewTransientStoreError("tenant_directory", "validate", err)
	}

	now := time.Now()
	expired := isExpired(rec.LicenseExpire, now)
	result := &ValidationResult{
		Valid:   true,
		Expired: expired,
		Store:   &rec,
	}
	if !expired {
		result.DaysRemaining = daysRemaining(rec.LicenseExpire, now)
	}

	s.storeCache(ctx, storeID, appID, result)
	return result, nil
}

// DatabaseFor returns the physical database name the (storeId, appId) pair
// routes to, or "" if the pair does not exist. The database name equals
// appId whenever the pair is valid, independent of license expiry — an
// expired tenant is still routable for, e.g., diagnostics, even though the
// session controller will have already closed the connection before
// reaching the dispatcher.
func (s *Service) DatabaseFor(ctx context.Context, storeID, appID string) (string, error) {
	result, err := s.Validate(ctx, storeID, appID)
	if err != nil {
		return "", err
	}
	if !result.Valid {
		return "", apperr.NewRoutingError(storeID, appID)
	}
	return result.Store.AppID, nil
}

// HealthCheck verifies the directory connection is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Seed is one static tenant-directory row, pre-populated at startup from a
// YAML seed file rather than provisioned through the wire protocol.
type Seed struct {
	StoreID       string
	StoreName     string
	AppID         string
	LicenseExpire time.Time
}

// LoadSeeds upserts every seed row into the directory table, so a fresh
// deployment has a usable tenant directory without a separate
// provisioning step. Existing rows are updated in place, keyed on
// (StoreId, AdvancedReportAppId).
func (s *Service) LoadSeeds(ctx context.Context, seeds []Seed) error {
	const upsert = `
		INSERT INTO tenant_directory (StoreId, StoreName, AdvancedReportAppId, AdvancedReportLicenseExpire)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			StoreName = VALUES(StoreName),
			AdvancedReportLicenseExpire = VALUES(AdvancedReportLicenseExpire)`

	for _, seed := range seeds {
		if _, err := s.db.ExecContext(ctx, upsert, seed.StoreID, seed.StoreName, seed.AppID, seed.LicenseExpire); err != nil {
			return apperr.NewTransientStoreError("tenant_directory", "seed", err)
		}
	}
	return nil
}

// Close releases the directory connection and cache client.
func (s *Service) Close() error {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	return s.db.Close()
}

// isExpired reports whether a license has expired as of now.
func isExpired(licenseExpire, now time.Time) bool {
	return !licenseExpire.After(now)
}

// daysRemaining computes ceil((expire - now) / 1 day).
func daysRemaining(licenseExpire, now time.Time) int {
	return int(math.Ceil(licenseExpire.Sub(now).Hours() / 24))
}

func cacheKey(storeID, appID string) string {
	return fmt.Sprintf("license:%s:%s", storeID, appID)
}

func (s *Service) lookupCache(ctx context.Context, storeID, appID string) (*ValidationResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	val, err := s.cache.Get(ctx, cacheKey(storeID, appID)).Result()
	if err != nil {
		return nil, false
	}
	result, err := decodeCachedResult(val)
	if err != nil {
		return nil, false
	}
	return result, true
}

func (s *Service) storeCache(ctx context.Context, storeID, appID string, result *ValidationResult) {
	if s.cache == nil {
		return
	}
	encoded, err := encodeCachedResult(result)
	if err != nil {
		s.logger.Warnf("failed to encode license cache entry: %v", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(storeID, appID), encoded, s.ttl).Err(); err != nil {
		s.logger.Warnf("failed to write license cache entry: %v", err)
	}
}
