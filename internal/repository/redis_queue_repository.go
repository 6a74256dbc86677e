package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"waitroom/internal/domain"
	pkgredis "waitroom/pkg/redis"
	"waitroom/pkg/telemetry"
)

// Meta hash field names. The promote script writes ticketId into the
// same hash, so these are part of the storage format.
const (
	metaFieldUserID     = "userId"
	metaFieldNickname   = "nickname"
	metaFieldTicketID   = "ticketId"
	metaFieldLastSeenAt = "lastSeenAt"
)

const lastSeenFormat = time.RFC3339Nano

// RedisQueueRepository implements QueueRepository using Redis
type RedisQueueRepository struct {
	client *pkgredis.Client
}

// NewRedisQueueRepository creates a new RedisQueueRepository
func NewRedisQueueRepository(client *pkgredis.Client) *RedisQueueRepository {
	return &RedisQueueRepository{client: client}
}

// AddToWaiting places the user in the waiting queue, scored by enqueue
// time in epoch millis. ZADD NX keeps the original position if the same
// id is ever offered twice.
func (r *RedisQueueRepository) AddToWaiting(ctx context.Context, userID string, enqueuedAt time.Time) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.add_to_waiting")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	added, err := r.client.ZAddNX(ctx, waitingKey, redis.Z{
		Score:  float64(enqueuedAt.UnixMilli()),
		Member: userID,
	}).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to add user to waiting queue: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return added == 1, nil
}

// UpsertWaitingMeta writes the user's meta record with the given TTL
func (r *RedisQueueRepository) UpsertWaitingMeta(ctx context.Context, meta *domain.WaitingMeta, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.upsert_waiting_meta")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", meta.UserID))

	key := waitingMetaKey(meta.UserID)
	err := r.client.HSet(ctx, key,
		metaFieldUserID, meta.UserID,
		metaFieldNickname, meta.Nickname,
		metaFieldTicketID, meta.TicketID,
		metaFieldLastSeenAt, meta.LastSeenAt.Format(lastSeenFormat),
	).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write waiting meta: %w", err)
	}

	if ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to set waiting meta ttl: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// FindWaitingMeta returns the user's meta record, or nil when absent
func (r *RedisQueueRepository) FindWaitingMeta(ctx context.Context, userID string) (*domain.WaitingMeta, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.find_waiting_meta")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	fields, err := r.client.HGetAll(ctx, waitingMetaKey(userID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read waiting meta: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	if len(fields) == 0 {
		return nil, nil
	}
	return metaFromFields(userID, fields), nil
}

// TouchWaitingMeta refreshes last-seen and the record TTL
func (r *RedisQueueRepository) TouchWaitingMeta(ctx context.Context, userID string, seenAt time.Time, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.touch_waiting_meta")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	key := waitingMetaKey(userID)
	if err := r.client.HSet(ctx, key, metaFieldLastSeenAt, seenAt.Format(lastSeenFormat)).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to touch waiting meta: %w", err)
	}

	if ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to refresh waiting meta ttl: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetWaitingRank returns the user's 0-based rank; false when not waiting
func (r *RedisQueueRepository) GetWaitingRank(ctx context.Context, userID string) (int64, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.get_waiting_rank")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	rank, err := r.client.ZRank(ctx, waitingKey, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			span.SetStatus(codes.Ok, "not in queue")
			return 0, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, false, fmt.Errorf("failed to get waiting rank: %w", err)
	}

	span.SetAttributes(attribute.Int64("rank", rank))
	span.SetStatus(codes.Ok, "")
	return rank, true, nil
}

// GetWaitingSize returns the number of users in the waiting queue
func (r *RedisQueueRepository) GetWaitingSize(ctx context.Context) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.get_waiting_size")
	defer span.End()

	count, err := r.client.ZCard(ctx, waitingKey).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to get waiting size: %w", err)
	}

	span.SetAttributes(attribute.Int64("count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// FindTicket returns the ticket payload for an issued ticket.
// A missing key maps to ErrTicketNotFound; a payload that does not
// parse maps to ErrCorruptTicket so callers can tell the two apart.
func (r *RedisQueueRepository) FindTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.find_ticket")
	defer span.End()

	span.SetAttributes(attribute.String("ticket_id", ticketID))

	raw, err := r.client.Get(ctx, ticketKey(ticketID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			span.SetStatus(codes.Ok, "ticket not found")
			return nil, domain.ErrTicketNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read ticket: %w", err)
	}

	ticket := &domain.Ticket{}
	if err := json.Unmarshal([]byte(raw), ticket); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "corrupt ticket payload")
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptTicket, err)
	}

	span.SetStatus(codes.Ok, "")
	return ticket, nil
}

// metaFromFields builds a WaitingMeta from the raw hash fields.
// An unparseable lastSeenAt becomes the zero time, which downstream
// treats as "never seen" rather than inactive.
func metaFromFields(userID string, fields map[string]string) *domain.WaitingMeta {
	meta := &domain.WaitingMeta{
		UserID:   userID,
		Nickname: fields[metaFieldNickname],
		TicketID: fields[metaFieldTicketID],
	}
	if id := fields[metaFieldUserID]; id != "" {
		meta.UserID = id
	}
	if raw := fields[metaFieldLastSeenAt]; raw != "" {
		if ts, err := time.Parse(lastSeenFormat, raw); err == nil {
			meta.LastSeenAt = ts
		}
	}
	return meta
}

// Ensure RedisQueueRepository implements QueueRepository
var _ QueueRepository = (*RedisQueueRepository)(nil)
