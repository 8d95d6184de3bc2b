package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"kingside/internal/auth"
	"kingside/internal/database"
	"kingside/internal/models"
	"kingside/internal/policy"
)

// cookieValue pulls one cookie out of a raw Cookie header. The WebSocket
// upgrade path reads the header directly, so this cannot rely on r.Cookie.
func cookieValue(header, name string) string {
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == name {
			return v
		}
	}
	return ""
}

// EnsureGuestUser resolves the request's identity, minting a guest account
// when no valid token is presented. The guest's token is set as a cookie so
// reconnects keep the same identity.
func EnsureGuestUser(w http.ResponseWriter, r *http.Request) (*models.User, error) {
	if token := cookieValue(r.Header.Get("Cookie"), "auth_token"); token != "" {
		sub, err := auth.AuthenticateJWT(token)
		if err == nil {
			userID, parseErr := uuid.Parse(sub)
			if parseErr != nil {
				return nil, fmt.Errorf("invalid user ID in token: %w", parseErr)
			}
			u, getErr := database.GetUserByID(r.Context(), userID)
			if getErr != nil {
				return nil, fmt.Errorf("user from token not found: %w", getErr)
			}
			return u, nil
		}
		// Expired or garbage token falls through to a fresh guest.
	}

	guest := models.User{Username: "Guest", IsGuest: true}
	if err := database.CreateUser(context.Background(), &guest); err != nil {
		return nil, fmt.Errorf("failed to create guest user: %w", err)
	}
	token, err := auth.CreateJWT(guest.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create guest JWT: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return &guest, nil
}

// CreateUserHandler registers a permanent account.
func CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	user := models.User{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
	}

	if err := database.CreateUser(r.Context(), &user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "email already exists", http.StatusConflict)
			return
		}
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}
	user.Password = ""
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// LoginHandler exchanges email/password for a session token. The token is
// returned in the body and also set as an auth_token cookie.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	token, err := database.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		log.Printf("failed to authenticate user: %v", err)
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   auth.TokenTTLSeconds,
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(loginResponse{Token: token}); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

type claimGuestRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// ClaimGuestHandler converts a guest account into a permanent one, keeping
// its id, rating, and game history.
func (s *Server) ClaimGuestHandler(w http.ResponseWriter, r *http.Request) {
	u, err := requestUser(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	if !s.Policy.Can(policy.TypeUser, &policy.Context{Actor: u}, policy.ActionClaimGuest) {
		http.Error(w, "authorization denied", http.StatusForbidden)
		return
	}

	var req claimGuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid claim payload", http.StatusBadRequest)
		return
	}

	u.Email = req.Email
	u.Password = req.Password
	if req.Username != "" {
		u.Username = req.Username
	}
	u.IsGuest = false

	if err := database.UpdateUserCredentials(r.Context(), u); err != nil {
		http.Error(w, "failed to claim guest account", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "guest account claimed successfully")
}

// requestUser loads the user named by the request's auth_token cookie.
func requestUser(r *http.Request) (*models.User, error) {
	token := cookieValue(r.Header.Get("Cookie"), "auth_token")
	sub, err := auth.AuthenticateJWT(token)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, err
	}
	return database.GetUserByID(r.Context(), userID)
}
