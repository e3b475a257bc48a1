package server

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wfunc/gridchase/board"
	"github.com/wfunc/gridchase/coordinator"
	"github.com/wfunc/gridchase/logger"
	"github.com/wfunc/gridchase/network"
	"github.com/wfunc/gridchase/session"
	"github.com/wfunc/gridchase/timer"
)

const heartbeatInterval = 30 * time.Second

type GameServer struct {
	addr           string
	staticDir      string
	upgrader       websocket.Upgrader
	catalog        *board.Catalog
	sessionManager *session.Manager
	coordinator    *coordinator.Coordinator
	gatherer       prometheus.Gatherer
	httpServer     *http.Server
}

func NewGameServer(addr, staticDir string, catalog *board.Catalog, sessionManager *session.Manager,
	coord *coordinator.Coordinator, gatherer prometheus.Gatherer) *GameServer {
	s := &GameServer{
		addr:           addr,
		staticDir:      staticDir,
		catalog:        catalog,
		sessionManager: sessionManager,
		coordinator:    coord,
		gatherer:       gatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.httpServer = &http.Server{Addr: addr, Handler: s.Routes()}
	return s
}

// Routes wires the websocket endpoint, the JSON API, metrics and static files.
func (s *GameServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/boards", s.handleBoards)
		r.Get("/rooms", s.handleRooms)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"status":   "ok",
				"sessions": s.sessionManager.Count(),
			})
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Handle("/debug/vars", expvar.Handler())

	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

// Start blocks until the server stops. A graceful Shutdown is not an error.
func (s *GameServer) Start() error {
	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GameServer) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.sessionManager.CloseAll()
	return err
}

// ScheduleIdleSweep asks tm to close sessions silent for longer than timeout,
// checking every interval.
func (s *GameServer) ScheduleIdleSweep(tm *timer.TimerManager, interval, timeout time.Duration) int64 {
	return tm.AddTimer(interval, interval, func() { s.SweepIdle(timeout) })
}

// SweepIdle closes sessions with no inbound frame within timeout. Their
// readers exit and post the disconnect as usual.
func (s *GameServer) SweepIdle(timeout time.Duration) []string {
	ids := s.sessionManager.CloseIdle(time.Now().Add(-timeout))
	for _, id := range ids {
		logger.Log.Infof("Closing idle session %s", id)
	}
	return ids
}

func (s *GameServer) handleBoards(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, network.BoardsList{Names: s.catalog.Names()})
}

func (s *GameServer) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.coordinator.ListRooms(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rooms)
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

// handleConnection owns the read side of one websocket. Every frame is handed
// to the coordinator; the coordinator alone touches game state.
func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(heartbeatInterval)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.coordinator.PostConnect(sess)

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.coordinator.PostDisconnect(sess)
		s.sessionManager.Remove(sess.GetID())
		wsConn.Close()
	}()

	for {
		packet, err := wsConn.ReadPacket()
		if errors.Is(err, io.ErrShortBuffer) {
			logger.Log.Debugf("Dropping short frame from session %s", sess.GetID())
			continue
		}
		if err != nil {
			return
		}
		sess.Touch()
		s.coordinator.PostPacket(sess, packet)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Errorf("Error encoding JSON: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
