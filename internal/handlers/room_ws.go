package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"kingside/internal/rules"
)

// RoomMessage is the envelope for inbound socket traffic. Move fields ride
// on the top level; getValidMoves uses Square.
type RoomMessage struct {
	Type string `json:"type"`

	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`

	Square string `json:"square,omitempty"`
}

const wsWriteTimeout = 5 * time.Second

// RoomWSHandler upgrades the connection for a room at /rooms/ws/{room_id},
// authenticates the user (minting a guest when needed), registers the
// session, joins the room, and runs the read loop until the client leaves.
func (s *Server) RoomWSHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDFromPath(r.URL.Path, "/rooms/ws/")
	if err != nil {
		http.Error(w, "Missing or invalid room_id in path (/rooms/ws/{room_id})", http.StatusBadRequest)
		return
	}
	if _, ok := s.Rooms.Get(roomID); !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"game"},
		OriginPatterns: []string{"*"}, // Adjust for production security.
	})
	if err != nil {
		s.Logger.Warnf("WebSocket accept error for room %s: %v", roomID, err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

	if c.Subprotocol() != "game" {
		s.Logger.Warnf("Client for room %s connected with invalid subprotocol: %s", roomID, c.Subprotocol())
		c.Close(websocket.StatusCode(BadSubprotocolError), "Client must use the 'game' subprotocol.")
		return
	}

	u, err := EnsureGuestUser(w, r)
	if err != nil {
		s.Logger.Warnf("User authentication failed for room %s: %v", roomID, err)
		c.Close(websocket.StatusCode(InvalidAuthTokenError), "Authentication failed.")
		return
	}
	s.Logger.Infof("User %s connected to room %s from %s", u.ID, roomID, r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := s.Registry.NewSession(u.ID, u.Username, u.IsGuest, u.Rating, cancel)
	go s.writePump(ctx, c, sess.OutChan)

	s.Coord.HandleJoin(ctx, sess.ID, roomID)

	s.readRoomMessages(ctx, c, sess.ID)

	s.Logger.Infof("User %s read loop exited for room %s", u.ID, roomID)
	s.Coord.HandleDisconnect(context.Background(), sess.ID)
}

// writePump drains the session's outbound queue onto the socket. It exits
// when the context dies, which session removal triggers via Cancel; a failed
// write cancels the read loop so cleanup runs once.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, out <-chan map[string]interface{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.Logger.Errorf("Failed to marshal outbound message: %v", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					s.Logger.Warnf("Failed to write WebSocket message: %v (Status: %d)", err, status)
				}
				return
			}
		}
	}
}

// readRoomMessages reads client messages and routes them into the
// coordinator until the connection closes or the context is canceled.
func (s *Server) readRoomMessages(ctx context.Context, c *websocket.Conn, sessionID uuid.UUID) {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.Logger.Infof("WebSocket closed normally for session %s.", sessionID)
			} else if strings.Contains(err.Error(), "context canceled") {
				s.Logger.Infof("WebSocket context canceled for session %s.", sessionID)
			} else {
				s.Logger.Warnf("Error reading from WebSocket for session %s: %v (Status: %d)", sessionID, err, status)
			}
			return
		}
		if msgType != websocket.MessageText {
			s.Logger.Warnf("Received non-text message type %d from session %s. Ignoring.", msgType, sessionID)
			continue
		}

		var msg RoomMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Logger.Warnf("Invalid JSON from session %s: %v. Data: %s", sessionID, err, string(data))
			s.sendSessionError(sessionID, "Invalid JSON format.")
			continue
		}

		s.Logger.Debugf("Received %q from session %s", msg.Type, sessionID)

		switch msg.Type {
		case "move":
			s.Coord.HandleMove(ctx, sessionID, rules.MoveRequest{
				From:      msg.From,
				To:        msg.To,
				Promotion: msg.Promotion,
			})
		case "resign":
			s.Coord.HandleResign(ctx, sessionID)
		case "newGame":
			s.Coord.HandleNewGame(ctx, sessionID)
		case "offerDraw":
			s.Coord.HandleOfferDraw(sessionID)
		case "acceptDraw":
			s.Coord.HandleAcceptDraw(ctx, sessionID)
		case "declineDraw":
			s.Coord.HandleDeclineDraw(sessionID)
		case "getValidMoves":
			s.Coord.HandleValidMoves(sessionID, msg.Square)
		case "getGameStatus":
			s.Coord.HandleStatus(sessionID)
		case "getMoveHistory":
			s.Coord.HandleHistory(sessionID)
		case "ping":
			s.Registry.SendTo(sessionID, map[string]interface{}{"type": "pong"})
		default:
			s.Logger.Warnf("Unknown message type %q from session %s", msg.Type, sessionID)
			s.sendSessionError(sessionID, "Unknown message type: "+msg.Type)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Server) sendSessionError(sessionID uuid.UUID, message string) {
	s.Registry.SendTo(sessionID, map[string]interface{}{"type": "error", "message": message})
}
