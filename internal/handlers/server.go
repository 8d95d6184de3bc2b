package handlers

import (
	"github.com/sirupsen/logrus"

	"kingside/internal/coordinator"
	"kingside/internal/persist"
	"kingside/internal/policy"
	"kingside/internal/registry"
	"kingside/internal/room"
)

// Server bundles the shared collaborators every HTTP and WebSocket handler
// needs. Built once in main and passed by pointer.
type Server struct {
	Logger   *logrus.Logger
	Rooms    *room.Store
	Registry *registry.Registry
	Policy   *policy.Engine
	Sync     *persist.Synchronizer
	Coord    *coordinator.Coordinator
}

func NewServer(logger *logrus.Logger, sync *persist.Synchronizer) *Server {
	rooms := room.NewStore()
	reg := registry.New(logger)
	eng := policy.NewEngine()
	return &Server{
		Logger:   logger,
		Rooms:    rooms,
		Registry: reg,
		Policy:   eng,
		Sync:     sync,
		Coord:    coordinator.New(rooms, reg, eng, logger),
	}
}
