package repository

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"waitroom/internal/domain"
	pkgredis "waitroom/pkg/redis"
	"waitroom/pkg/telemetry"
)

//go:embed scripts/promote.lua
var promoteScript string

// Script name for caching
const scriptPromote = "promote"

// RedisAdmissionRepository implements AdmissionRepository using Redis
type RedisAdmissionRepository struct {
	client *pkgredis.Client
}

// NewRedisAdmissionRepository creates a new RedisAdmissionRepository
func NewRedisAdmissionRepository(client *pkgredis.Client) *RedisAdmissionRepository {
	return &RedisAdmissionRepository{client: client}
}

// LoadScripts loads the admission Lua scripts into Redis
func (r *RedisAdmissionRepository) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptPromote: promoteScript,
	}

	for name, script := range scripts {
		if _, err := r.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}

	return nil
}

// FetchNextBatch returns up to n user ids from the head of the waiting
// queue, in arrival order, without removing them
func (r *RedisAdmissionRepository) FetchNextBatch(ctx context.Context, n int) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.admission.fetch_next_batch")
	defer span.End()

	if n <= 0 {
		span.SetStatus(codes.Ok, "empty batch")
		return []string{}, nil
	}

	users, err := r.client.ZRange(ctx, waitingKey, 0, int64(n)-1).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to fetch waiting batch: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(users)))
	span.SetStatus(codes.Ok, "")
	return users, nil
}

// WaitingSize returns the number of users in the waiting queue
func (r *RedisAdmissionRepository) WaitingSize(ctx context.Context) (int64, error) {
	count, err := r.client.ZCard(ctx, waitingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get waiting size: %w", err)
	}
	return count, nil
}

// FetchWaitingMeta returns a candidate's meta record, or nil when absent
func (r *RedisAdmissionRepository) FetchWaitingMeta(ctx context.Context, userID string) (*domain.WaitingMeta, error) {
	fields, err := r.client.HGetAll(ctx, waitingMetaKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read waiting meta: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return metaFromFields(userID, fields), nil
}

// RemoveFromWaiting evicts a user from the waiting queue
func (r *RedisAdmissionRepository) RemoveFromWaiting(ctx context.Context, userID string) error {
	if err := r.client.ZRem(ctx, waitingKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove user from waiting queue: %w", err)
	}
	return nil
}

// DeleteWaitingMeta removes a user's meta record
func (r *RedisAdmissionRepository) DeleteWaitingMeta(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, waitingMetaKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete waiting meta: %w", err)
	}
	return nil
}

// FetchServerStatus reads the capacity snapshot published by the game
// server. A missing hash yields a zero-value status, which resolves to
// the configured fallback cap.
func (r *RedisAdmissionRepository) FetchServerStatus(ctx context.Context) (*domain.ServerStatus, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.admission.fetch_server_status")
	defer span.End()

	fields, err := r.client.HGetAll(ctx, serverStatusKey).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read server status: %w", err)
	}

	status := &domain.ServerStatus{
		CurrentUsers: atoiField(fields, "current_users"),
		SoftCap:      atoiField(fields, "soft_cap"),
		MaxCap:       atoiField(fields, "max_cap"),
	}

	span.SetAttributes(
		attribute.Int("current_users", status.CurrentUsers),
		attribute.Int("soft_cap", status.SoftCap),
	)
	span.SetStatus(codes.Ok, "")
	return status, nil
}

// CountJoiningTickets counts tickets whose expiry is still ahead of now
func (r *RedisAdmissionRepository) CountJoiningTickets(ctx context.Context, now time.Time) (int64, error) {
	min := strconv.FormatInt(now.UnixMilli(), 10)
	count, err := r.client.ZCount(ctx, joiningKey, min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count joining tickets: %w", err)
	}
	return count, nil
}

// RemoveExpiredTickets drops tickets whose expiry passed and returns
// their ids
func (r *RedisAdmissionRepository) RemoveExpiredTickets(ctx context.Context, now time.Time) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.admission.remove_expired_tickets")
	defer span.End()

	max := strconv.FormatInt(now.UnixMilli(), 10)
	expired, err := r.client.ZRangeByScore(ctx, joiningKey, &redis.ZRangeBy{
		Min: "0",
		Max: max,
	}).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to scan expired tickets: %w", err)
	}

	if len(expired) == 0 {
		span.SetStatus(codes.Ok, "none expired")
		return []string{}, nil
	}

	if err := r.client.ZRem(ctx, joiningKey, stringSliceToInterface(expired)...).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to remove expired tickets: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(expired)))
	span.SetStatus(codes.Ok, "")
	return expired, nil
}

// DeleteTickets removes ticket payload records. The payload keys carry
// their own TTL, so a failure here only means Redis reclaims them a
// little later.
func (r *RedisAdmissionRepository) DeleteTickets(ctx context.Context, ticketIDs []string) error {
	if len(ticketIDs) == 0 {
		return nil
	}

	keys := make([]string, len(ticketIDs))
	for i, id := range ticketIDs {
		keys[i] = ticketKey(id)
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete ticket payloads: %w", err)
	}
	return nil
}

// Promote atomically moves a user from waiting to joining
func (r *RedisAdmissionRepository) Promote(ctx context.Context, params PromoteParams) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.admission.promote")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", params.UserID),
		attribute.String("ticket_id", params.TicketID),
	)

	keys := []string{
		waitingKey,
		waitingMetaKey(params.UserID),
		joiningKey,
		ticketKey(params.TicketID),
	}

	// EX rejects 0, so a sub-second TTL must still round up to a
	// full second.
	ttlSeconds := int64(params.TTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	args := []interface{}{
		params.UserID,
		params.TicketID,
		strconv.FormatInt(params.ExpireAt.UnixMilli(), 10),
		strconv.FormatInt(ttlSeconds, 10),
	}

	result := r.client.EvalWithFallback(ctx, scriptPromote, promoteScript, keys, args...)
	if result.Err() != nil {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return false, fmt.Errorf("failed to execute promote script: %w", result.Err())
	}

	promoted, err := result.Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to parse promote result: %w", err)
	}

	span.SetAttributes(attribute.Bool("promoted", promoted == 1))
	span.SetStatus(codes.Ok, "")
	return promoted == 1, nil
}

// atoiField parses an int hash field, returning 0 for missing or
// malformed values
func atoiField(fields map[string]string, name string) int {
	v, err := strconv.Atoi(fields[name])
	if err != nil {
		return 0
	}
	return v
}

// stringSliceToInterface converts []string to []interface{} for ZRem
func stringSliceToInterface(s []string) []interface{} {
	result := make([]interface{}, len(s))
	for i, v := range s {
		result[i] = v
	}
	return result
}

// Ensure RedisAdmissionRepository implements AdmissionRepository
var _ AdmissionRepository = (*RedisAdmissionRepository)(nil)
