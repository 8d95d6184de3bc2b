package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"kingside/internal/cache"
	"kingside/internal/database"
	"kingside/internal/policy"
	"kingside/internal/room"
)

// CreateRoomHandler opens a fresh waiting room and returns its id. The
// creator does not take a seat here; seating happens on the socket.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	u, err := EnsureGuestUser(w, r)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}
	if !s.Policy.Can(policy.TypeUser, &policy.Context{Actor: u}, policy.ActionCreateRoom) {
		http.Error(w, "authorization denied", http.StatusForbidden)
		return
	}

	// Spectating defaults on; the body has to say "allow_spectators": false
	// to disable it.
	var req struct {
		TimeControl     string `json:"time_control"`
		AllowSpectators *bool  `json:"allow_spectators"`
		RatingMin       int    `json:"rating_min"`
		RatingMax       int    `json:"rating_max"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid room options", http.StatusBadRequest)
		return
	}
	opts := room.Options{
		TimeControl:     req.TimeControl,
		AllowSpectators: req.AllowSpectators == nil || *req.AllowSpectators,
		RatingMin:       req.RatingMin,
		RatingMax:       req.RatingMax,
	}

	rm := room.New(opts)
	rm.Journal = s.Sync
	s.Rooms.Add(rm)

	if cache.Rdb != nil {
		if err := cache.IndexRoom(r.Context(), cache.RoomSummary{ID: rm.ID, Status: string(rm.Status)}); err != nil {
			s.Logger.WithError(err).Warn("room index update failed")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"room_id": rm.ID,
		"options": rm.Opts,
	})
}

// ListRoomsHandler lists open rooms, preferring the redis index and falling
// back to the in-memory store when redis is unavailable.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	u, err := EnsureGuestUser(w, r)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}
	if !s.Policy.Can(policy.TypeUser, &policy.Context{Actor: u}, policy.ActionListRooms) {
		http.Error(w, "authorization denied", http.StatusForbidden)
		return
	}

	var summaries []cache.RoomSummary
	if cache.Rdb != nil {
		summaries, err = cache.ListRooms(r.Context())
		if err != nil {
			s.Logger.WithError(err).Warn("redis room listing failed, falling back to store")
			summaries = nil
		}
	}
	if summaries == nil {
		for _, rm := range s.Rooms.List() {
			snap := rm.Snapshot()
			sum := cache.RoomSummary{
				ID:         snap.RoomID,
				Status:     string(snap.Status),
				MoveCount:  snap.MoveCount,
				Spectators: snap.Spectators,
			}
			for _, seat := range snap.Seats {
				switch seat.Color {
				case room.White:
					sum.White = seat.Username
				case room.Black:
					sum.Black = seat.Username
				}
			}
			summaries = append(summaries, sum)
		}
	}
	if summaries == nil {
		summaries = []cache.RoomSummary{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// RoomStateHandler returns one room's snapshot over plain HTTP, for clients
// that want state without opening a socket.
func (s *Server) RoomStateHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDFromPath(r.URL.Path, "/rooms/state/")
	if err != nil {
		http.Error(w, "invalid room_id", http.StatusBadRequest)
		return
	}
	rm, ok := s.Rooms.Get(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	u, err := EnsureGuestUser(w, r)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}
	view := rm.PolicyView(u.ID)
	if !s.Policy.Can(policy.TypeGame, &policy.Context{Actor: u, Room: &view}, policy.ActionViewGame) {
		http.Error(w, "authorization denied", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rm.Snapshot())
}

type banRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Banned bool      `json:"banned"`
}

// BanUserHandler sets or clears a ban flag. Admin only, and admins cannot
// ban each other.
func (s *Server) BanUserHandler(w http.ResponseWriter, r *http.Request) {
	actor, err := requestUser(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	target, err := database.GetUserByID(r.Context(), req.UserID)
	if err != nil {
		http.Error(w, "target user not found", http.StatusNotFound)
		return
	}

	action := policy.ActionBanUser
	if !req.Banned {
		action = policy.ActionUnbanUser
	}
	if !s.Policy.Can(policy.TypeUser, &policy.Context{Actor: actor, Target: target}, action) {
		http.Error(w, "authorization denied", http.StatusForbidden)
		return
	}

	if err := database.SetUserBanned(r.Context(), target.ID, req.Banned); err != nil {
		http.Error(w, "failed to update ban state", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

const (
	roomSweepInterval = 5 * time.Minute
	roomIdleTTL       = time.Hour
)

// StartRoomJanitor periodically retires waiting rooms that nobody ever
// connected to. Rooms with live sessions are cleaned up on disconnect; this
// sweep only catches the ones created over HTTP and then forgotten.
func (s *Server) StartRoomJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(roomSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepAbandonedRooms(ctx)
			}
		}
	}()
}

func (s *Server) sweepAbandonedRooms(ctx context.Context) {
	for _, rm := range s.Rooms.List() {
		if !rm.Abandoned(roomIdleTTL) {
			continue
		}
		s.Rooms.Delete(rm.ID)
		if cache.Rdb != nil {
			if err := cache.DeindexRoom(ctx, rm.ID); err != nil {
				s.Logger.WithError(err).Warn("room deindex failed")
			}
		}
		s.Logger.WithField("room", rm.ID).Info("retired abandoned room")
	}
}

// roomIDFromPath parses the uuid segment after prefix.
func roomIDFromPath(path, prefix string) (uuid.UUID, error) {
	raw := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(raw, "/"); idx != -1 {
		raw = raw[:idx]
	}
	return uuid.Parse(raw)
}
