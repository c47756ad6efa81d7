package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/age-verify/internal/logging"
)

// VerificationAudit is the persisted trace of one verification request.
// It deliberately carries no personal data: no date of birth, no age value,
// no decoded text, no image bytes. Only the image hash, booleans, an outcome
// kind, and timing survive the request.
type VerificationAudit struct {
	ID        uint      `gorm:"primaryKey"`
	RequestID string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Subject   string    `gorm:"column:subject;size:64"`
	ImageSHA1 string    `gorm:"column:image_sha1;index;size:40"`
	QRFound   bool      `gorm:"column:qr_found"`
	Success   bool      `gorm:"column:success"`
	IsUnder18 bool      `gorm:"column:is_under_18"`
	Outcome   string    `gorm:"column:outcome;size:32"`
	LatencyMs int64     `gorm:"column:latency_ms"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationAudit) TableName() string {
	return "verification_audits"
}

// MetricsAggregation is the raw aggregate read back from the audit table.
type MetricsAggregation struct {
	TotalCount       int64   `gorm:"column:total_count"`
	SuccessCount     int64   `gorm:"column:success_count"`
	Under18Count     int64   `gorm:"column:under_18_count"`
	AverageLatencyMs float64 `gorm:"column:average_latency_ms"`
}

// AuditRepository provides persistence APIs for verification audits.
type AuditRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAuditRepository creates a new repository instance.
func NewAuditRepository(db *gorm.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:             db,
		logger:         logger.Named("audit_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AuditRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationAudit{})
}

// SaveAudit persists one audit entry.
func (r *AuditRepository) SaveAudit(ctx context.Context, audit *VerificationAudit) error {
	return r.executeWithRetry(ctx, "repository.save_audit", audit.RequestID, func() error {
		return r.db.WithContext(ctx).Create(audit).Error
	})
}

// FindByRequestID retrieves the audit entry for a request id.
func (r *AuditRepository) FindByRequestID(ctx context.Context, requestID string) (*VerificationAudit, error) {
	var audit VerificationAudit
	err := r.executeWithRetry(ctx, "repository.find_audit", requestID, func() error {
		return r.db.WithContext(ctx).First(&audit, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &audit, nil
}

// AggregateMetrics computes request totals, success counts and latency
// averages over the whole audit table.
func (r *AuditRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationAudit{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(SUM(CASE WHEN is_under_18 THEN 1 ELSE 0 END), 0) AS under_18_count, " +
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// executeWithRetry retries transient database failures with exponential
// backoff, wrapping the terminal error with operation metadata.
func (r *AuditRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
