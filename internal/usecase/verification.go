package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/example/age-verify/internal/agecheck"
	"github.com/example/age-verify/internal/logging"
	"github.com/example/age-verify/internal/payload"
	"github.com/example/age-verify/internal/preprocess"
	"github.com/example/age-verify/internal/repository"
)

// User-facing failure messages. Business failures are reported through these,
// never through transport errors.
const (
	MessageNoQR          = "No QR code detected. Try cropping exactly to the QR."
	MessageDOBUnreadable = "QR found, but could not read DOB."
)

// Outcome kinds recorded in the audit trail.
const (
	OutcomeVerified       = "verified"
	OutcomeMalformedImage = "malformed_image"
	OutcomeQRNotFound     = "qr_not_found"
	OutcomeDOBUnreadable  = "dob_unreadable"
	OutcomeCached         = "cached"
)

// AuditRepository defines the persistence operations needed by the use case.
type AuditRepository interface {
	SaveAudit(ctx context.Context, audit *repository.VerificationAudit) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationAudit, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// SymbolScanner produces candidate symbol payloads from raw image bytes.
type SymbolScanner interface {
	Scan(raw []byte) ([][]byte, preprocess.Variant, error)
}

// Result is the outward verification outcome. Only the threshold boolean is
// exposed; the date of birth and numeric age never leave the pipeline.
type Result struct {
	RequestID string
	Success   bool
	IsUnder18 bool
	Message   string
}

// VerificationUseCase runs the scan/decode/extract pipeline behind a bounded
// worker pool and records a privacy-minimized audit trail.
type VerificationUseCase struct {
	repo           AuditRepository
	cache          Cache
	scanner        SymbolScanner
	logger         *zap.Logger
	workers        *semaphore.Weighted
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewVerificationUseCase constructs a new use case instance. The worker pool
// is sized to the available CPU cores; requests beyond capacity queue on the
// semaphore until a slot frees up or their context expires.
func NewVerificationUseCase(repo AuditRepository, cache Cache, scanner SymbolScanner, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		repo:           repo,
		cache:          cache,
		scanner:        scanner,
		logger:         logger.Named("verification_usecase"),
		workers:        semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

type verdict struct {
	qrFound   bool
	success   bool
	isUnder18 bool
	outcome   string
	message   string
	variant   preprocess.Variant
}

// Verify answers whether the document holder is under 18. Every failure mode
// degrades to a structured result; an error return means only that the
// request could not be scheduled or was cancelled.
func (uc *VerificationUseCase) Verify(ctx context.Context, subject string, imageBytes []byte) (*Result, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", requestID)

	hash := sha1.Sum(imageBytes)
	hashHex := hex.EncodeToString(hash[:])
	cacheKey := fmt.Sprintf("verify:image:%s", hashHex)

	if cached, ok := uc.lookupCached(ctx, requestID, cacheKey); ok {
		uc.audit(ctx, opLogger, &repository.VerificationAudit{
			RequestID: requestID,
			Subject:   subject,
			ImageSHA1: hashHex,
			QRFound:   cached.QRFound,
			Success:   cached.Success,
			IsUnder18: cached.IsUnder18,
			Outcome:   OutcomeCached,
			CreatedAt: uc.now().UTC(),
		})
		return &Result{
			RequestID: requestID,
			Success:   cached.Success,
			IsUnder18: cached.IsUnder18,
			Message:   cached.Message,
		}, nil
	}

	start := uc.now()
	v, err := uc.runPipeline(ctx, imageBytes)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.acquire_worker", requestID, err)
		opLogger.Error("pipeline could not be scheduled", zap.Error(wrapped))
		return nil, wrapped
	}
	latency := uc.now().Sub(start)

	opLogger.Info("verification completed",
		zap.Bool("qr_found", v.qrFound),
		zap.Bool("success", v.success),
		zap.String("outcome", v.outcome),
		zap.String("variant", v.variant.String()),
		zap.Duration("latency", latency))

	uc.audit(ctx, opLogger, &repository.VerificationAudit{
		RequestID: requestID,
		Subject:   subject,
		ImageSHA1: hashHex,
		QRFound:   v.qrFound,
		Success:   v.success,
		IsUnder18: v.isUnder18,
		Outcome:   v.outcome,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: uc.now().UTC(),
	})

	uc.storeCached(ctx, requestID, cacheKey, cachedVerdict{
		Success:   v.success,
		IsUnder18: v.isUnder18,
		QRFound:   v.qrFound,
		Outcome:   v.outcome,
		Message:   v.message,
	})

	return &Result{
		RequestID: requestID,
		Success:   v.success,
		IsUnder18: v.isUnder18,
		Message:   v.message,
	}, nil
}

// runPipeline executes the CPU-bound scan and decode stages inside the
// bounded worker pool.
func (uc *VerificationUseCase) runPipeline(ctx context.Context, imageBytes []byte) (verdict, error) {
	if err := uc.workers.Acquire(ctx, 1); err != nil {
		return verdict{}, err
	}
	defer uc.workers.Release(1)

	payloads, variant, err := uc.scanner.Scan(imageBytes)
	if err != nil {
		outcome := OutcomeQRNotFound
		if errors.Is(err, preprocess.ErrMalformedImage) {
			outcome = OutcomeMalformedImage
		}
		return verdict{outcome: outcome, message: MessageNoQR}, nil
	}

	// Try every located symbol in order; the first one yielding a parseable
	// date of birth wins.
	for _, raw := range payloads {
		record, err := payload.Decode(raw)
		if err != nil {
			continue
		}
		dob, err := agecheck.ExtractDOB(record.Text)
		if err != nil {
			continue
		}
		return verdict{
			qrFound:   true,
			success:   true,
			isUnder18: agecheck.IsUnder18(dob, uc.now()),
			outcome:   OutcomeVerified,
			variant:   variant,
		}, nil
	}

	return verdict{
		qrFound: true,
		outcome: OutcomeDOBUnreadable,
		message: MessageDOBUnreadable,
		variant: variant,
	}, nil
}

// GetResult retrieves the audit record for a past request.
func (uc *VerificationUseCase) GetResult(ctx context.Context, requestID string) (*repository.VerificationAudit, error) {
	return uc.repo.FindByRequestID(ctx, requestID)
}

// audit persists the trail entry. A failed audit write is logged but never
// fails the request: the verdict is already computed and owed to the caller.
func (uc *VerificationUseCase) audit(ctx context.Context, opLogger *zap.Logger, entry *repository.VerificationAudit) {
	if err := uc.repo.SaveAudit(ctx, entry); err != nil {
		opLogger.Error("failed to persist audit entry", zap.Error(err))
	}
}

func (uc *VerificationUseCase) lookupCached(ctx context.Context, requestID, cacheKey string) (cachedVerdict, bool) {
	var out cachedVerdict
	raw, err := uc.withRedisGet(ctx, requestID, "cache.get.verdict", cacheKey)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "cache.get.verdict", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return out, false
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logging.WithOperation(uc.logger, "cache.get.verdict", requestID).Warn("failed to decode cached verdict", zap.Error(err))
		return out, false
	}
	return out, true
}

// storeCached writes the verdict for the image hash. Cache failures degrade
// to recomputation on the next request.
func (uc *VerificationUseCase) storeCached(ctx context.Context, requestID, cacheKey string, v cachedVerdict) {
	serialized, err := json.Marshal(v)
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set.verdict", requestID).Warn("failed to serialize verdict", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.verdict", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), verdictTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.verdict", requestID).Warn("failed to cache verdict", zap.Error(err))
	}
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) || !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
