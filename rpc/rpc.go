package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/gridchase/logger"
	"github.com/wfunc/gridchase/models"
	"github.com/wfunc/gridchase/persistence"
)

const callTimeout = 5 * time.Second

// Server manages the admin RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      rpc.NewServer(),
	}, nil
}

// Register exposes rcvr's exported methods under its type name.
func (s *Server) Register(rcvr interface{}) error {
	return s.rpc.Register(rcvr)
}

func (s *Server) Addr() string {
	return s.address
}

// Start accepts connections until Stop is called.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// RoomLister is satisfied by the coordinator.
type RoomLister interface {
	ListRooms(ctx context.Context) ([]models.RoomSummary, error)
}

// AdminService exposes read-only server state over net/rpc.
type AdminService struct {
	rooms RoomLister
	db    persistence.Database
}

func NewAdminService(rooms RoomLister, db persistence.Database) *AdminService {
	return &AdminService{rooms: rooms, db: db}
}

type ListRoomsArgs struct{}

type ListRoomsReply struct {
	Rooms []models.RoomSummary
}

func (a *AdminService) ListRooms(args *ListRoomsArgs, reply *ListRoomsReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	rooms, err := a.rooms.ListRooms(ctx)
	if err != nil {
		return err
	}
	reply.Rooms = rooms
	return nil
}

type LastGameArgs struct {
	RoomCode string
}

type LastGameReply struct {
	Record models.GameRecord
}

// LastGame returns the most recent stored game for a room code.
func (a *AdminService) LastGame(args *LastGameArgs, reply *LastGameReply) error {
	record, err := a.db.LastGame(args.RoomCode)
	if err != nil {
		return err
	}
	reply.Record = *record
	return nil
}
