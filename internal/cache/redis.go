// Package cache holds the Redis plumbing: the move-record queue drained by
// the historian process and the live-room index backing the room listing.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultQueueName is the Redis list the historian consumes from.
const DefaultQueueName = "kingside_moves"

const (
	roomIndexKey   = "kingside:rooms"
	roomKeyPrefix  = "kingside:room:"
	roomSummaryTTL = 24 * time.Hour
)

// MoveQueueRecord is one applied move as pushed to the historian queue.
type MoveQueueRecord struct {
	RoomID    uuid.UUID `json:"room_id"`
	Number    int       `json:"number"`
	ActorID   uuid.UUID `json:"actor_id"`
	Color     string    `json:"color"`
	UCI       string    `json:"uci"`
	SAN       string    `json:"san"`
	FEN       string    `json:"fen"`
	Timestamp int64     `json:"timestamp"`
}

// RoomSummary is the listing view of a live room.
type RoomSummary struct {
	ID         uuid.UUID `json:"id"`
	Status     string    `json:"status"`
	White      string    `json:"white,omitempty"`
	Black      string    `json:"black,omitempty"`
	MoveCount  int       `json:"move_count"`
	Spectators int       `json:"spectators"`
}

// ConnectRedis initializes the global client from REDIS_ADDR / REDIS_DB.
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{Addr: addr, DB: dbIdx})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		Rdb = nil
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// PublishMoveRecord pushes one applied move onto the historian queue.
func PublishMoveRecord(ctx context.Context, rec MoveQueueRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal move record: %w", err)
	}
	queue := getEnv("HISTORIAN_QUEUE_NAME", DefaultQueueName)
	if err := Rdb.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to %q: %w", queue, err)
	}
	return nil
}

// IndexRoom stores the room summary and adds the room to the live index.
func IndexRoom(ctx context.Context, sum RoomSummary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	if err := Rdb.Set(ctx, roomKeyPrefix+sum.ID.String(), data, roomSummaryTTL).Err(); err != nil {
		return err
	}
	return Rdb.SAdd(ctx, roomIndexKey, sum.ID.String()).Err()
}

// DeindexRoom removes a room from the live index.
func DeindexRoom(ctx context.Context, id uuid.UUID) error {
	if err := Rdb.SRem(ctx, roomIndexKey, id.String()).Err(); err != nil {
		return err
	}
	return Rdb.Del(ctx, roomKeyPrefix+id.String()).Err()
}

// ListRooms returns the indexed summaries. Stale ids whose summary expired
// are pruned from the index as they are encountered.
func ListRooms(ctx context.Context) ([]RoomSummary, error) {
	ids, err := Rdb.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RoomSummary, 0, len(ids))
	for _, id := range ids {
		raw, err := Rdb.Get(ctx, roomKeyPrefix+id).Bytes()
		if err == redis.Nil {
			Rdb.SRem(ctx, roomIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		var sum RoomSummary
		if err := json.Unmarshal(raw, &sum); err != nil {
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
