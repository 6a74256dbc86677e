package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"waitroom/internal/domain"
	"waitroom/internal/metrics"
	"waitroom/internal/repository"
	"waitroom/internal/service"
	"waitroom/pkg/logger"
)

// Eviction reasons reported in metrics and logs
const (
	evictReasonMetaExpired = "meta_expired"
	evictReasonInactive    = "inactive"
	evictReasonInvalidMeta = "invalid_meta"
)

// AdmissionWorkerConfig holds configuration for the admission worker
type AdmissionWorkerConfig struct {
	// ScheduleInterval is the time between admission cycles (default: 1 second)
	ScheduleInterval time.Duration
	// TicketTTL is the lifetime of an issued ticket. A non-positive value
	// disables promotion: each cycle still reaps expired tickets but admits
	// nobody.
	TicketTTL time.Duration
	// BatchLimit caps how many users one cycle may promote (default: 100)
	BatchLimit int
	// InactivityGrace is how long a waiter may go without polling before
	// eviction. Zero disables inactivity eviction.
	InactivityGrace time.Duration
	// FallbackSoftCap is used when the game server has not published its
	// capacity (default: 1000)
	FallbackSoftCap int
}

// DefaultAdmissionWorkerConfig returns default configuration
func DefaultAdmissionWorkerConfig() *AdmissionWorkerConfig {
	return &AdmissionWorkerConfig{
		ScheduleInterval: 1 * time.Second,
		TicketTTL:        60 * time.Second,
		BatchLimit:       100,
		InactivityGrace:  30 * time.Second,
		FallbackSoftCap:  1000,
	}
}

// CycleResult summarizes one admission cycle
type CycleResult struct {
	Reaped         int
	Promoted       int
	Evicted        int
	AvailableSlots int
}

// AdmissionWorker periodically reaps expired tickets and promotes waiting
// users into the joining set, up to the capacity the game server reports.
type AdmissionWorker struct {
	config    *AdmissionWorkerConfig
	repo      repository.AdmissionRepository
	publisher service.EventPublisher
	log       *logger.Logger

	// Metrics
	mu            sync.Mutex
	totalPromoted int64
	totalReaped   int64
	totalEvicted  int64
	lastCycleTime time.Time
}

// NewAdmissionWorker creates a new admission worker
func NewAdmissionWorker(
	cfg *AdmissionWorkerConfig,
	repo repository.AdmissionRepository,
	publisher service.EventPublisher,
	log *logger.Logger,
) *AdmissionWorker {
	if cfg == nil {
		cfg = DefaultAdmissionWorkerConfig()
	}
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = 1 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.FallbackSoftCap <= 0 {
		cfg.FallbackSoftCap = 1000
	}
	if publisher == nil {
		publisher = service.NewNoOpEventPublisher()
	}

	return &AdmissionWorker{
		config:    cfg,
		repo:      repo,
		publisher: publisher,
		log:       log,
	}
}

// Start begins the continuous admission process
func (w *AdmissionWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.ScheduleInterval)
	defer ticker.Stop()

	w.log.Info(fmt.Sprintf("Admission worker started (interval: %v, batch limit: %d, ticket ttl: %v)",
		w.config.ScheduleInterval, w.config.BatchLimit, w.config.TicketTTL))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Admission worker stopping...")
			return
		case <-ticker.C:
			if _, err := w.RunCycleOnce(ctx); err != nil {
				w.log.Error(fmt.Sprintf("Admission cycle failed: %v", err))
			}
		}
	}
}

// RunCycleOnce executes a single admission cycle: reap expired tickets,
// compute available capacity, then promote waiters in arrival order.
func (w *AdmissionWorker) RunCycleOnce(ctx context.Context) (*CycleResult, error) {
	now := time.Now()
	result := &CycleResult{}

	reaped, err := w.reapExpiredTickets(ctx, now)
	if err != nil {
		return nil, err
	}
	result.Reaped = reaped

	status, err := w.repo.FetchServerStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch server status: %w", err)
	}

	joining, err := w.repo.CountJoiningTickets(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count joining tickets: %w", err)
	}

	waiting, err := w.repo.WaitingSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read waiting size: %w", err)
	}

	slots := status.AvailableSlots(w.config.FallbackSoftCap, int(joining))
	result.AvailableSlots = slots

	metrics.UpdateCapacityGauges(waiting, joining, int64(status.CurrentUsers),
		int64(status.ResolveCap(w.config.FallbackSoftCap)), int64(slots))

	if slots <= 0 {
		w.finishCycle(result)
		return result, nil
	}

	batch := slots
	if batch > w.config.BatchLimit {
		batch = w.config.BatchLimit
	}

	if w.config.TicketTTL <= 0 {
		w.log.Warn("Ticket TTL is not positive, skipping promotion")
		w.finishCycle(result)
		return result, nil
	}

	candidates, err := w.repo.FetchNextBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}

	for _, userID := range candidates {
		select {
		case <-ctx.Done():
			w.finishCycle(result)
			return result, ctx.Err()
		default:
		}

		promoted, evicted, err := w.admitCandidate(ctx, userID, now)
		if err != nil {
			// Committed promotions stand; the rest of the batch waits
			// for the next cycle.
			w.log.Error(fmt.Sprintf("Aborting cycle at user %s: %v", userID, err))
			break
		}
		if promoted {
			result.Promoted++
		}
		if evicted {
			result.Evicted++
		}
	}

	metrics.RecordPromotions(result.Promoted)
	w.finishCycle(result)

	if result.Promoted > 0 || result.Evicted > 0 {
		w.log.Info(fmt.Sprintf("Admission cycle: promoted %d, evicted %d, reaped %d (slots: %d)",
			result.Promoted, result.Evicted, result.Reaped, slots))
	}
	return result, nil
}

// reapExpiredTickets drops tickets past their expiry and publishes an
// expiry event for each. Publish and payload-delete failures are logged
// only; the zset removal already happened.
func (w *AdmissionWorker) reapExpiredTickets(ctx context.Context, now time.Time) (int, error) {
	expired, err := w.repo.RemoveExpiredTickets(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired tickets: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	for _, ticketID := range expired {
		if err := w.publisher.PublishTicketExpired(ctx, ticketID); err != nil {
			w.log.Error(fmt.Sprintf("Failed to publish expiry for ticket %s: %v", ticketID, err))
		}
	}

	if err := w.repo.DeleteTickets(ctx, expired); err != nil {
		// Payloads carry their own TTL, so leaking here is recoverable
		w.log.Error(fmt.Sprintf("Failed to delete %d expired ticket payloads: %v", len(expired), err))
	}

	metrics.RecordTicketsExpired(len(expired))
	w.log.Info(fmt.Sprintf("Reaped %d expired tickets", len(expired)))
	return len(expired), nil
}

// admitCandidate promotes one waiter or evicts it when its meta record is
// gone, stale, or invalid. Returns (promoted, evicted, err); both false
// when the promote script declined the candidate. A non-nil error means
// the store call failed and the cycle should stop.
func (w *AdmissionWorker) admitCandidate(ctx context.Context, userID string, now time.Time) (bool, bool, error) {
	meta, err := w.repo.FetchWaitingMeta(ctx, userID)
	if err != nil {
		return false, false, fmt.Errorf("failed to fetch meta for user %s: %w", userID, err)
	}

	if meta == nil {
		w.evict(ctx, userID, evictReasonMetaExpired)
		return false, true, nil
	}
	if meta.IsInactive(now, w.config.InactivityGrace) {
		w.evict(ctx, userID, evictReasonInactive)
		return false, true, nil
	}
	if err := meta.Validate(); err != nil {
		w.evict(ctx, userID, evictReasonInvalidMeta)
		return false, true, nil
	}

	ticketID := uuid.New().String()
	expireAt := now.Add(w.config.TicketTTL)

	promoted, err := w.repo.Promote(ctx, repository.PromoteParams{
		UserID:   userID,
		TicketID: ticketID,
		ExpireAt: expireAt,
		TTL:      w.config.TicketTTL,
	})
	if err != nil {
		return false, false, fmt.Errorf("failed to promote user %s: %w", userID, err)
	}
	if !promoted {
		// The script already cleaned up whatever state was left; nothing
		// to count on this side.
		w.log.Debug(fmt.Sprintf("User %s was no longer promotable", userID))
		return false, false, nil
	}

	ticket := &domain.Ticket{
		TicketID: ticketID,
		UserID:   userID,
		Nickname: meta.Nickname,
	}
	if err := w.publisher.PublishTicketIssued(ctx, ticket, expireAt); err != nil {
		w.log.Error(fmt.Sprintf("Failed to publish issue event for ticket %s: %v", ticketID, err))
	}

	w.log.Debug(fmt.Sprintf("Promoted user %s with ticket %s expiring at %v", userID, ticketID, expireAt))
	return true, false, nil
}

// evict removes a waiter from the queue and drops its meta record
func (w *AdmissionWorker) evict(ctx context.Context, userID, reason string) {
	if err := w.repo.RemoveFromWaiting(ctx, userID); err != nil {
		w.log.Error(fmt.Sprintf("Failed to evict user %s from queue: %v", userID, err))
		return
	}
	if err := w.repo.DeleteWaitingMeta(ctx, userID); err != nil {
		w.log.Error(fmt.Sprintf("Failed to delete meta for evicted user %s: %v", userID, err))
	}
	metrics.RecordEviction(reason)
	w.log.Debug(fmt.Sprintf("Evicted user %s (%s)", userID, reason))
}

func (w *AdmissionWorker) finishCycle(result *CycleResult) {
	w.mu.Lock()
	w.totalPromoted += int64(result.Promoted)
	w.totalReaped += int64(result.Reaped)
	w.totalEvicted += int64(result.Evicted)
	w.lastCycleTime = time.Now()
	w.mu.Unlock()
}

// GetMetrics returns current worker totals
func (w *AdmissionWorker) GetMetrics() (totalPromoted, totalReaped, totalEvicted int64, lastCycleTime time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalPromoted, w.totalReaped, w.totalEvicted, w.lastCycleTime
}
