// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"kingside/internal/auth"
	"kingside/internal/cache"
	"kingside/internal/database"
	"kingside/internal/handlers"
	"kingside/internal/middleware"
	"kingside/internal/persist"
)

func main() {
	auth.Init()
	database.ConnectDB()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	// The server runs without redis; room listings fall back to the
	// in-memory store and the move queue is skipped.
	var publish persist.MovePublisher
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable: %v", err)
	} else {
		publish = cache.PublishMoveRecord
	}

	sync := persist.New(persist.PGStore{}, publish, logger)
	srv := handlers.NewServer(logger, sync)
	srv.StartRoomJanitor(context.Background())

	mux := http.NewServeMux()

	// user endpoints
	mux.HandleFunc("/user/create", handlers.CreateUserHandler)
	mux.HandleFunc("/user/login", handlers.LoginHandler)
	mux.HandleFunc("/user/claim", srv.ClaimGuestHandler)

	// admin endpoints
	mux.Handle("/admin/ban", middleware.LogMiddleware(logger)(http.HandlerFunc(srv.BanUserHandler)))

	// room endpoints
	mux.Handle("/rooms/create", middleware.LogMiddleware(logger)(http.HandlerFunc(srv.CreateRoomHandler)))
	mux.Handle("/rooms/list", middleware.LogMiddleware(logger)(http.HandlerFunc(srv.ListRoomsHandler)))
	mux.Handle("/rooms/state/", middleware.LogMiddleware(logger)(http.HandlerFunc(srv.RoomStateHandler)))

	// room websocket
	mux.Handle("/rooms/ws/", middleware.LogMiddleware(logger)(http.HandlerFunc(srv.RoomWSHandler)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
