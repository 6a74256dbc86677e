package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"waitroom/internal/domain"
	"waitroom/internal/repository"
	"waitroom/pkg/logger"
)

// MockAdmissionRepository is a mock implementation of AdmissionRepository
type MockAdmissionRepository struct {
	mock.Mock
}

func (m *MockAdmissionRepository) FetchNextBatch(ctx context.Context, n int) ([]string, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAdmissionRepository) WaitingSize(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAdmissionRepository) FetchWaitingMeta(ctx context.Context, userID string) (*domain.WaitingMeta, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WaitingMeta), args.Error(1)
}

func (m *MockAdmissionRepository) RemoveFromWaiting(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockAdmissionRepository) DeleteWaitingMeta(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockAdmissionRepository) FetchServerStatus(ctx context.Context) (*domain.ServerStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ServerStatus), args.Error(1)
}

func (m *MockAdmissionRepository) CountJoiningTickets(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAdmissionRepository) RemoveExpiredTickets(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAdmissionRepository) DeleteTickets(ctx context.Context, ticketIDs []string) error {
	args := m.Called(ctx, ticketIDs)
	return args.Error(0)
}

func (m *MockAdmissionRepository) Promote(ctx context.Context, params repository.PromoteParams) (bool, error) {
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}

// Ensure MockAdmissionRepository implements AdmissionRepository
var _ repository.AdmissionRepository = (*MockAdmissionRepository)(nil)

// capturePublisher records published events for assertions
type capturePublisher struct {
	mu            sync.Mutex
	issuedTickets []*domain.Ticket
	expiredIDs    []string
}

func (p *capturePublisher) PublishTicketIssued(ctx context.Context, ticket *domain.Ticket, expireAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issuedTickets = append(p.issuedTickets, ticket)
	return nil
}

func (p *capturePublisher) PublishTicketExpired(ctx context.Context, ticketID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiredIDs = append(p.expiredIDs, ticketID)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func newTestWorker(cfg *AdmissionWorkerConfig, repo *MockAdmissionRepository) (*AdmissionWorker, *capturePublisher) {
	publisher := &capturePublisher{}
	return NewAdmissionWorker(cfg, repo, publisher, logger.Get()), publisher
}

func freshMeta(userID string) *domain.WaitingMeta {
	return &domain.WaitingMeta{
		UserID:     userID,
		Nickname:   "player-" + userID,
		LastSeenAt: time.Now(),
	}
}

func expectQuietReap(repo *MockAdmissionRepository) {
	repo.On("RemoveExpiredTickets", mock.Anything, mock.AnythingOfType("time.Time")).
		Return([]string{}, nil)
}

func expectCapacity(repo *MockAdmissionRepository, current, softCap int, joining, waiting int64) {
	repo.On("FetchServerStatus", mock.Anything).
		Return(&domain.ServerStatus{CurrentUsers: current, SoftCap: softCap}, nil)
	repo.On("CountJoiningTickets", mock.Anything, mock.AnythingOfType("time.Time")).
		Return(joining, nil)
	repo.On("WaitingSize", mock.Anything).Return(waiting, nil)
}

func TestAdmissionWorker_PromotesUpToCapacity(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	worker, publisher := newTestWorker(DefaultAdmissionWorkerConfig(), mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 15)

	candidates := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9", "u10"}
	mockRepo.On("FetchNextBatch", mock.Anything, 10).Return(candidates, nil)
	for _, id := range candidates {
		mockRepo.On("FetchWaitingMeta", mock.Anything, id).Return(freshMeta(id), nil)
	}
	mockRepo.On("Promote", mock.Anything, mock.AnythingOfType("repository.PromoteParams")).
		Return(true, nil).Times(10)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 10, result.Promoted)
	assert.Equal(t, 10, result.AvailableSlots)
	assert.Len(t, publisher.issuedTickets, 10)
	mockRepo.AssertExpectations(t)
}

func TestAdmissionWorker_AtCapacityDoesNothing(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	worker, _ := newTestWorker(DefaultAdmissionWorkerConfig(), mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 8, 10, 2, 50)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, result.Promoted)
	assert.Equal(t, 0, result.AvailableSlots)
	mockRepo.AssertNotCalled(t, "FetchNextBatch")
}

func TestAdmissionWorker_JoiningTicketsReserveSlots(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	worker, _ := newTestWorker(DefaultAdmissionWorkerConfig(), mockRepo)

	expectQuietReap(mockRepo)
	// cap 10, 3 in game, 4 holding tickets -> 3 slots
	expectCapacity(mockRepo, 3, 10, 4, 20)

	mockRepo.On("FetchNextBatch", mock.Anything, 3).Return([]string{"u1", "u2", "u3"}, nil)
	for _, id := range []string{"u1", "u2", "u3"} {
		mockRepo.On("FetchWaitingMeta", mock.Anything, id).Return(freshMeta(id), nil)
	}
	mockRepo.On("Promote", mock.Anything, mock.Anything).Return(true, nil)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 3, result.Promoted)
}

func TestAdmissionWorker_BatchLimitCapsPromotion(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	cfg := DefaultAdmissionWorkerConfig()
	cfg.BatchLimit = 2
	worker, _ := newTestWorker(cfg, mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 20)

	mockRepo.On("FetchNextBatch", mock.Anything, 2).Return([]string{"u1", "u2"}, nil)
	mockRepo.On("FetchWaitingMeta", mock.Anything, mock.Anything).Return(freshMeta("u"), nil)
	mockRepo.On("Promote", mock.Anything, mock.Anything).Return(true, nil)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 2, result.Promoted)
}

func TestAdmissionWorker_NonPositiveTicketTTLSkipsPromotion(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	cfg := DefaultAdmissionWorkerConfig()
	cfg.TicketTTL = 0
	worker, _ := newTestWorker(cfg, mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 5)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, result.Promoted)
	mockRepo.AssertNotCalled(t, "FetchNextBatch")
}

func TestAdmissionWorker_FallbackCapWhenStatusUnpublished(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	cfg := DefaultAdmissionWorkerConfig()
	cfg.FallbackSoftCap = 2
	worker, _ := newTestWorker(cfg, mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 0, 0, 5)

	mockRepo.On("FetchNextBatch", mock.Anything, 2).Return([]string{"u1", "u2"}, nil)
	mockRepo.On("FetchWaitingMeta", mock.Anything, mock.Anything).Return(freshMeta("u"), nil)
	mockRepo.On("Promote", mock.Anything, mock.Anything).Return(true, nil)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 2, result.Promoted)
}

func TestAdmissionWorker_EvictsCandidateWithExpiredMeta(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	worker, publisher := newTestWorker(DefaultAdmissionWorkerConfig(), mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 2)

	mockRepo.On("FetchNextBatch", mock.Anything, 10).Return([]string{"ghost", "u2"}, nil)
	mockRepo.On("FetchWaitingMeta", mock.Anything, "ghost").Return(nil, nil)
	mockRepo.On("RemoveFromWaiting", mock.Anything, "ghost").Return(nil)
	mockRepo.On("DeleteWaitingMeta", mock.Anything, "ghost").Return(nil)
	mockRepo.On("FetchWaitingMeta", mock.Anything, "u2").Return(freshMeta("u2"), nil)
	mockRepo.On("Promote", mock.Anything, mock.Anything).Return(true, nil)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, 1, result.Evicted)
	assert.Len(t, publisher.issuedTickets, 1)
	assert.Equal(t, "u2", publisher.issuedTickets[0].UserID)
	mockRepo.AssertExpectations(t)
}

func TestAdmissionWorker_EvictsInactiveCandidate(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	worker, _ := newTestWorker(DefaultAdmissionWorkerConfig(), mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 1)

	stale := &domain.WaitingMeta{
		UserID:     "sleeper",
		Nickname:   "sleeper",
		LastSeenAt: time.Now().Add(-45 * time.Second), // grace is 30s
	}
	mockRepo.On("FetchNextBatch", mock.Anything, 10).Return([]string{"sleeper"}, nil)
	mockRepo.On("FetchWaitingMeta", mock.Anything, "sleeper").Return(stale, nil)
	mockRepo.On("RemoveFromWaiting", mock.Anything, "sleeper").Return(nil)
	mockRepo.On("DeleteWaitingMeta", mock.Anything, "sleeper").Return(nil)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, result.Promoted)
	assert.Equal(t, 1, result.Evicted)
	mockRepo.AssertNotCalled(t, "Promote")
}

func TestAdmissionWorker_ZeroGraceDisablesInactivityEviction(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	cfg := DefaultAdmissionWorkerConfig()
	cfg.InactivityGrace = 0
	worker, _ := newTestWorker(cfg, mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 1)

	stale := &domain.WaitingMeta{
		UserID:     "sleeper",
		Nickname:   "sleeper",
		LastSeenAt: time.Now().Add(-time.Hour),
	}
	mockRepo.On("FetchNextBatch", mock.Anything, 10).Return([]string{"sleeper"}, nil)
	mockRepo.On("FetchWaitingMeta", mock.Anything, "sleeper").Return(stale, nil)
	mockRepo.On("Promote", mock.Anything, mock.Anything).Return(true, nil)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, 0, result.Evicted)
}

func TestAdmissionWorker_ScriptRejectionIsNotCounted(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	worker, publisher := newTestWorker(DefaultAdmissionWorkerConfig(), mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 1)

	mockRepo.On("FetchNextBatch", mock.Anything, 10).Return([]string{"racer"}, nil)
	mockRepo.On("FetchWaitingMeta", mock.Anything, "racer").Return(freshMeta("racer"), nil)
	// Meta vanished between the fetch and the script run; the script
	// cleaned up on its own, so the cycle reports neither a promotion
	// nor an eviction.
	mockRepo.On("Promote", mock.Anything, mock.Anything).Return(false, nil)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, result.Promoted)
	assert.Equal(t, 0, result.Evicted)
	assert.Empty(t, publisher.issuedTickets)
}

func TestAdmissionWorker_StoreErrorAbortsRemainderOfCycle(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	worker, _ := newTestWorker(DefaultAdmissionWorkerConfig(), mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 3)

	mockRepo.On("FetchNextBatch", mock.Anything, 10).Return([]string{"u1", "u2", "u3"}, nil)
	mockRepo.On("FetchWaitingMeta", mock.Anything, "u1").Return(freshMeta("u1"), nil)
	mockRepo.On("Promote", mock.Anything, mock.MatchedBy(func(p repository.PromoteParams) bool {
		return p.UserID == "u1"
	})).Return(true, nil)
	mockRepo.On("FetchWaitingMeta", mock.Anything, "u2").Return(nil, assert.AnError)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	mockRepo.AssertNotCalled(t, "FetchWaitingMeta", mock.Anything, "u3")
}

func TestAdmissionWorker_ReapsExpiredTickets(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	worker, publisher := newTestWorker(DefaultAdmissionWorkerConfig(), mockRepo)

	expired := []string{"t1", "t2", "t3"}
	mockRepo.On("RemoveExpiredTickets", mock.Anything, mock.AnythingOfType("time.Time")).
		Return(expired, nil)
	mockRepo.On("DeleteTickets", mock.Anything, expired).Return(nil)
	expectCapacity(mockRepo, 10, 10, 0, 0)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 3, result.Reaped)
	assert.Equal(t, expired, publisher.expiredIDs)
	mockRepo.AssertExpectations(t)
}

func TestAdmissionWorker_EmptyQueueIsNoOp(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	worker, publisher := newTestWorker(DefaultAdmissionWorkerConfig(), mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 0)

	mockRepo.On("FetchNextBatch", mock.Anything, 10).Return([]string{}, nil)

	result, err := worker.RunCycleOnce(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, result.Promoted)
	assert.Equal(t, 0, result.Evicted)
	assert.Empty(t, publisher.issuedTickets)
}

func TestAdmissionWorker_StartStopsOnContextCancel(t *testing.T) {
	mockRepo := new(MockAdmissionRepository)
	cfg := DefaultAdmissionWorkerConfig()
	cfg.ScheduleInterval = 10 * time.Millisecond
	worker, _ := newTestWorker(cfg, mockRepo)

	expectQuietReap(mockRepo)
	expectCapacity(mockRepo, 0, 10, 0, 0)
	mockRepo.On("FetchNextBatch", mock.Anything, mock.Anything).Return([]string{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}

	totalPromoted, _, _, _ := worker.GetMetrics()
	assert.Equal(t, int64(0), totalPromoted)
}
