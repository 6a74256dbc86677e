package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"waitroom/internal/domain"
	"waitroom/internal/dto"
	"waitroom/internal/repository"
	"waitroom/pkg/telemetry"
)

// QueueService defines the interface for waiting room business logic
type QueueService interface {
	// SubmitEntry places a user in the waiting queue and returns their
	// assigned id and starting rank
	SubmitEntry(ctx context.Context, nickname string) (*dto.EntryResponse, error)

	// QueryStatus reports a user's current standing. Polling also counts
	// as a liveness signal.
	QueryStatus(ctx context.Context, userID string) (*dto.StatusResponse, error)

	// GetTicket returns an issued ticket. When token is non-empty it is
	// verified against the ticket before the payload is returned.
	GetTicket(ctx context.Context, ticketID, token string) (*dto.TicketResponse, error)
}

// queueService implements QueueService
type queueService struct {
	queueRepo      repository.QueueRepository
	waitingMetaTTL time.Duration
	ticketTTL      time.Duration
	jwtSecret      string
	jwtIssuer      string
}

// QueueServiceConfig contains configuration for the queue service
type QueueServiceConfig struct {
	WaitingMetaTTL time.Duration
	TicketTTL      time.Duration
	JWTSecret      string // Secret for signing admission token JWTs
	JWTIssuer      string
}

// NewQueueService creates a new queue service
func NewQueueService(queueRepo repository.QueueRepository, cfg *QueueServiceConfig) QueueService {
	waitingMetaTTL := 30 * time.Second
	ticketTTL := 60 * time.Second
	jwtSecret := ""
	jwtIssuer := "waitroom"

	if cfg != nil {
		if cfg.WaitingMetaTTL > 0 {
			waitingMetaTTL = cfg.WaitingMetaTTL
		}
		if cfg.TicketTTL > 0 {
			ticketTTL = cfg.TicketTTL
		}
		if cfg.JWTIssuer != "" {
			jwtIssuer = cfg.JWTIssuer
		}
		jwtSecret = cfg.JWTSecret
	}

	if jwtSecret == "" {
		panic("QueueServiceConfig.JWTSecret is required")
	}

	return &queueService{
		queueRepo:      queueRepo,
		waitingMetaTTL: waitingMetaTTL,
		ticketTTL:      ticketTTL,
		jwtSecret:      jwtSecret,
		jwtIssuer:      jwtIssuer,
	}
}

// SubmitEntry places a user in the waiting queue
func (s *queueService) SubmitEntry(ctx context.Context, nickname string) (*dto.EntryResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.submit_entry")
	defer span.End()

	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		span.SetStatus(codes.Error, "invalid nickname")
		return nil, domain.ErrInvalidNickname
	}

	userID := uuid.New().String()
	now := time.Now()

	span.SetAttributes(attribute.String("user_id", userID))

	added, err := s.queueRepo.AddToWaiting(ctx, userID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !added {
		// A fresh uuid colliding with a queued member means something is
		// wrong with the store, not the caller.
		span.SetStatus(codes.Error, "enqueue failed")
		return nil, domain.ErrEnqueueFailed
	}

	meta := &domain.WaitingMeta{
		UserID:     userID,
		Nickname:   nickname,
		LastSeenAt: now,
	}
	if err := s.queueRepo.UpsertWaitingMeta(ctx, meta, s.waitingMetaTTL); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rank, ok, err := s.queueRepo.GetWaitingRank(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	position := int64(0)
	if ok {
		position = rank
	}

	span.SetAttributes(attribute.Int64("rank", position))
	span.SetStatus(codes.Ok, "")
	return &dto.EntryResponse{
		Status: dto.QueueStatusWaiting,
		UserID: userID,
		Rank:   position,
	}, nil
}

// QueryStatus reports a user's current standing
func (s *queueService) QueryStatus(ctx context.Context, userID string) (*dto.StatusResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.query_status")
	defer span.End()

	if userID == "" {
		span.SetStatus(codes.Error, "invalid user_id")
		return nil, domain.ErrInvalidUserID
	}

	span.SetAttributes(attribute.String("user_id", userID))

	meta, err := s.queueRepo.FindWaitingMeta(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if meta == nil {
		span.SetStatus(codes.Error, "not in queue")
		return nil, domain.ErrNotInQueue
	}

	if meta.IsPromoted() {
		token, err := s.issueAdmissionToken(userID, meta.TicketID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		span.SetAttributes(attribute.String("ticket_id", meta.TicketID))
		span.SetStatus(codes.Ok, "promoted")
		return &dto.StatusResponse{
			Status:         dto.QueueStatusPromoted,
			TicketID:       meta.TicketID,
			AdmissionToken: token,
		}, nil
	}

	// Polling is the liveness signal; a touch failure must not break the
	// status response.
	if err := s.queueRepo.TouchWaitingMeta(ctx, userID, time.Now(), s.waitingMetaTTL); err != nil {
		telemetry.SetSpanError(ctx, err)
	}

	rank, ok, err := s.queueRepo.GetWaitingRank(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !ok {
		// Meta exists but the user left the waiting queue without a
		// ticket: evicted between our two reads.
		span.SetStatus(codes.Error, "no longer waiting")
		return nil, domain.ErrNoLongerWaiting
	}

	total, err := s.queueRepo.GetWaitingSize(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int64("rank", rank))
	span.SetStatus(codes.Ok, "")
	return &dto.StatusResponse{
		Status:       dto.QueueStatusWaiting,
		Rank:         rank,
		TotalWaiting: total,
	}, nil
}

// GetTicket returns an issued ticket
func (s *queueService) GetTicket(ctx context.Context, ticketID, token string) (*dto.TicketResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.get_ticket")
	defer span.End()

	if ticketID == "" {
		span.SetStatus(codes.Error, "invalid ticket_id")
		return nil, domain.ErrInvalidTicketID
	}

	span.SetAttributes(attribute.String("ticket_id", ticketID))

	if token != "" {
		claims, err := s.verifyAdmissionToken(token)
		if err != nil {
			span.SetStatus(codes.Error, "invalid admission token")
			return nil, err
		}
		if claims.TicketID != ticketID {
			span.SetStatus(codes.Error, "ticket mismatch")
			return nil, domain.ErrTicketMismatch
		}
	}

	ticket, err := s.queueRepo.FindTicket(ctx, ticketID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &dto.TicketResponse{
		TicketID: ticket.TicketID,
		UserID:   ticket.UserID,
		Nickname: ticket.Nickname,
	}, nil
}

// AdmissionClaims represents the claims for an admission token JWT
type AdmissionClaims struct {
	UserID   string `json:"user_id"`
	TicketID string `json:"ticket_id"`
	Purpose  string `json:"purpose"`
	jwt.RegisteredClaims
}

// issueAdmissionToken signs a short-lived JWT binding the user to their
// ticket. The token lives as long as the ticket does.
func (s *queueService) issueAdmissionToken(userID, ticketID string) (string, error) {
	now := time.Now()

	claims := AdmissionClaims{
		UserID:   userID,
		TicketID: ticketID,
		Purpose:  "admission",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ticketTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.jwtIssuer,
			Subject:   userID,
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign admission token: %w", err)
	}

	return signedToken, nil
}

// verifyAdmissionToken parses and validates an admission token
func (s *queueService) verifyAdmissionToken(tokenString string) (*AdmissionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdmissionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, domain.ErrInvalidAdmissionToken
	}

	claims, ok := token.Claims.(*AdmissionClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidAdmissionToken
	}
	if claims.Purpose != "admission" {
		return nil, domain.ErrInvalidAdmissionToken
	}

	return claims, nil
}
