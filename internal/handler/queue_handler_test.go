package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"waitroom/internal/domain"
	"waitroom/internal/dto"
)

// MockQueueService is a mock implementation of QueueService
type MockQueueService struct {
	mock.Mock
}

func (m *MockQueueService) SubmitEntry(ctx context.Context, nickname string) (*dto.EntryResponse, error) {
	args := m.Called(ctx, nickname)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.EntryResponse), args.Error(1)
}

func (m *MockQueueService) QueryStatus(ctx context.Context, userID string) (*dto.StatusResponse, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.StatusResponse), args.Error(1)
}

func (m *MockQueueService) GetTicket(ctx context.Context, ticketID, token string) (*dto.TicketResponse, error) {
	args := m.Called(ctx, ticketID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.TicketResponse), args.Error(1)
}

func setupQueueTestRouter(handler *QueueHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	queue := router.Group("/api/queue")
	{
		queue.POST("/entry", handler.SubmitEntry)
		queue.GET("/status", handler.QueryStatus)
		queue.GET("/ticket/:ticket_id", handler.GetTicket)
	}

	return router
}

func TestQueueHandler_SubmitEntry_Success(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	expectedResponse := &dto.EntryResponse{
		Status: dto.QueueStatusWaiting,
		UserID: "user-123",
		Rank:   5,
	}
	mockService.On("SubmitEntry", mock.Anything, "alice").Return(expectedResponse, nil)

	body, _ := json.Marshal(dto.EntryRequest{Nickname: "alice"})
	req, _ := http.NewRequest("POST", "/api/queue/entry", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response dto.EntryResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "user-123", response.UserID)
	assert.Equal(t, int64(5), response.Rank)
	mockService.AssertExpectations(t)
}

func TestQueueHandler_SubmitEntry_MissingNickname(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	req, _ := http.NewRequest("POST", "/api/queue/entry", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "SubmitEntry")
}

func TestQueueHandler_SubmitEntry_BlankNickname(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	mockService.On("SubmitEntry", mock.Anything, "   ").Return(nil, domain.ErrInvalidNickname)

	body, _ := json.Marshal(dto.EntryRequest{Nickname: "   "})
	req, _ := http.NewRequest("POST", "/api/queue/entry", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response dto.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "INVALID_NICKNAME", response.Code)
}

func TestQueueHandler_QueryStatus_Waiting(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	expectedResponse := &dto.StatusResponse{
		Status:       dto.QueueStatusWaiting,
		Rank:         3,
		TotalWaiting: 42,
	}
	mockService.On("QueryStatus", mock.Anything, "user-123").Return(expectedResponse, nil)

	req, _ := http.NewRequest("GET", "/api/queue/status?userId=user-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.StatusResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, dto.QueueStatusWaiting, response.Status)
	assert.Equal(t, int64(3), response.Rank)
	assert.Equal(t, int64(42), response.TotalWaiting)
}

func TestQueueHandler_QueryStatus_RankZeroSerializes(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	// Rank 0 means head of the queue, not absence of a rank; the field
	// must appear in the payload.
	mockService.On("QueryStatus", mock.Anything, "user-123").Return(&dto.StatusResponse{
		Status:       dto.QueueStatusWaiting,
		Rank:         0,
		TotalWaiting: 7,
	}, nil)

	req, _ := http.NewRequest("GET", "/api/queue/status?userId=user-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rank":0`)
}

func TestQueueHandler_QueryStatus_Promoted(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	expectedResponse := &dto.StatusResponse{
		Status:         dto.QueueStatusPromoted,
		TicketID:       "ticket-1",
		AdmissionToken: "signed-token",
	}
	mockService.On("QueryStatus", mock.Anything, "user-123").Return(expectedResponse, nil)

	req, _ := http.NewRequest("GET", "/api/queue/status?userId=user-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.StatusResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, dto.QueueStatusPromoted, response.Status)
	assert.Equal(t, "ticket-1", response.TicketID)
	assert.Equal(t, "signed-token", response.AdmissionToken)
}

func TestQueueHandler_QueryStatus_MissingUserID(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	req, _ := http.NewRequest("GET", "/api/queue/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "QueryStatus")
}

func TestQueueHandler_QueryStatus_NotInQueue(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	mockService.On("QueryStatus", mock.Anything, "ghost").Return(nil, domain.ErrNotInQueue)

	req, _ := http.NewRequest("GET", "/api/queue/status?userId=ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response dto.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "NOT_IN_QUEUE", response.Code)
}

func TestQueueHandler_QueryStatus_NoLongerWaiting(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	mockService.On("QueryStatus", mock.Anything, "user-123").Return(nil, domain.ErrNoLongerWaiting)

	req, _ := http.NewRequest("GET", "/api/queue/status?userId=user-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusGone, w.Code)
}

func TestQueueHandler_QueryStatus_StoreDown(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	mockService.On("QueryStatus", mock.Anything, "user-123").
		Return(nil, assert.AnError)

	req, _ := http.NewRequest("GET", "/api/queue/status?userId=user-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestQueueHandler_GetTicket_Success(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	expectedResponse := &dto.TicketResponse{
		TicketID: "ticket-1",
		UserID:   "user-123",
		Nickname: "alice",
	}
	mockService.On("GetTicket", mock.Anything, "ticket-1", "").Return(expectedResponse, nil)

	req, _ := http.NewRequest("GET", "/api/queue/ticket/ticket-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.TicketResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "alice", response.Nickname)
}

func TestQueueHandler_GetTicket_PassesToken(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	expectedResponse := &dto.TicketResponse{
		TicketID: "ticket-1",
		UserID:   "user-123",
		Nickname: "alice",
	}
	mockService.On("GetTicket", mock.Anything, "ticket-1", "jwt-token").Return(expectedResponse, nil)

	req, _ := http.NewRequest("GET", "/api/queue/ticket/ticket-1?token=jwt-token", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestQueueHandler_GetTicket_NotFound(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	mockService.On("GetTicket", mock.Anything, "ghost", "").Return(nil, domain.ErrTicketNotFound)

	req, _ := http.NewRequest("GET", "/api/queue/ticket/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueHandler_GetTicket_TokenMismatch(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	mockService.On("GetTicket", mock.Anything, "ticket-1", "wrong-token").
		Return(nil, domain.ErrTicketMismatch)

	req, _ := http.NewRequest("GET", "/api/queue/ticket/ticket-1?token=wrong-token", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestQueueHandler_GetTicket_InvalidToken(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	mockService.On("GetTicket", mock.Anything, "ticket-1", "garbage").
		Return(nil, domain.ErrInvalidAdmissionToken)

	req, _ := http.NewRequest("GET", "/api/queue/ticket/ticket-1?token=garbage", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQueueHandler_GetTicket_CorruptPayload(t *testing.T) {
	mockService := new(MockQueueService)
	handler := NewQueueHandler(mockService)
	router := setupQueueTestRouter(handler)

	mockService.On("GetTicket", mock.Anything, "ticket-1", "").
		Return(nil, domain.ErrCorruptTicket)

	req, _ := http.NewRequest("GET", "/api/queue/ticket/ticket-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
