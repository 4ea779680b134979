// Package webd bridges a map session to a browser or native host over HTTP
// and a websocket. The session runs on the daemon's frame loop; handlers reach
// it only through channels and the loader, which is safe for concurrent use.
package webd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/mux"
	"github.com/olahol/melody"
	"github.com/rotblauer/geotiles/metrics/influxdb"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/session"
)

type WebDaemon struct {
	Config         *params.WebDaemonConfig
	logger         *slog.Logger
	session        *session.Session
	melodyInstance *melody.Melody
	started        time.Time
	eventSub       event.Subscription

	// cameras carries the latest requested camera to the frame loop.
	cameras chan session.Camera

	mu     sync.RWMutex
	last   frameSummary
	target session.Camera
}

// frameSummary is the part of the latest frame handlers may read.
type frameSummary struct {
	Number   uint64           `json:"number"`
	Zoom     uint32           `json:"zoom"`
	Camera   session.Camera   `json:"camera"`
	Readout  session.Readout  `json:"readout"`
	Anchors  []session.Placed `json:"anchors,omitempty"`
	Visible  int              `json:"visible"`
	Pending  int              `json:"pending"`
	Coverage float64          `json:"coverage"`
}

// NewWebDaemon opens the session described by config.Map.
func NewWebDaemon(config *params.WebDaemonConfig) (*WebDaemon, error) {
	if config == nil {
		config = params.DefaultWebDaemonConfig()
	}
	s, err := session.New(config.Map)
	if err != nil {
		return nil, err
	}
	return NewWebDaemonWith(config, s), nil
}

// NewWebDaemonWith serves an existing session. The daemon takes ownership of it.
func NewWebDaemonWith(config *params.WebDaemonConfig, s *session.Session) *WebDaemon {
	d := &WebDaemon{
		Config:  config,
		logger:  slog.With("d", "web"),
		session: s,
		cameras: make(chan session.Camera, 1),
		started: time.Now(),
		last:    frameSummary{Camera: s.Camera(), Zoom: s.Zoom()},
		target:  s.Camera(),
	}
	d.initMelody()
	return d
}

// Run serves HTTP and drives the frame loop until ctx is done.
func (s *WebDaemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen(s.Config.Network, s.Config.Address)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", s.Config.Network, s.Config.Address, err)
	}
	server := &http.Server{Handler: s.NewRouter()}

	s.session.Start(ctx)
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx)
	}()
	go func() {
		defer wg.Done()
		influxdb.Run(ctx, s.Config.InfluxDB, s.session.Describe(), s.session.Metrics())
	}()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web daemon", "address", ln.Addr().String(), "source", s.session.Describe())
		serveErr <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		cancel()
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = server.Shutdown(shutdownCtx)
	_ = s.melodyInstance.Close()
	wg.Wait()
	s.eventSub.Unsubscribe()

	if cerr := s.session.Close(); cerr != nil {
		s.logger.Warn("Session close", "error", cerr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// loop owns the session: one Update per tick, with the most recent camera.
func (s *WebDaemon) loop(ctx context.Context) {
	interval := s.Config.FrameInterval
	if interval <= 0 {
		interval = time.Second / 30
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	camera := s.session.Camera()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.cameras:
			camera = c
		case <-ticker.C:
			s.frame(camera)
		}
	}
}

func (s *WebDaemon) frame(camera session.Camera) {
	f := s.session.Update(camera)
	if f.Rebase != nil {
		s.broadcast(socketMessage{Action: actionRebase, Rebase: f.Rebase})
	}
	sum := frameSummary{
		Number:   f.Number,
		Zoom:     f.Zoom,
		Camera:   camera,
		Readout:  s.session.Readout(f.Camera),
		Anchors:  f.Anchors,
		Visible:  f.Visible,
		Pending:  f.Pending,
		Coverage: f.Coverage,
	}
	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()
}

func (s *WebDaemon) lastFrame() frameSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *WebDaemon) targetCamera() session.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target
}

// setCamera replaces any camera the loop has not picked up yet.
func (s *WebDaemon) setCamera(c session.Camera) {
	s.mu.Lock()
	s.target = c
	s.mu.Unlock()
	for {
		select {
		case s.cameras <- c:
			return
		default:
		}
		select {
		case <-s.cameras:
		default:
		}
	}
}

func (s *WebDaemon) NewRouter() *mux.Router {
	router := mux.NewRouter().StrictSlash(false)
	router.Use(loggingMiddleware)

	router.Path("/socket").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.melodyInstance.HandleRequest(w, r)
	})

	apiRoutes := router.NewRoute().Subrouter()
	apiRoutes.Use(corsMiddleware)

	apiRoutes.Path("/ping").HandlerFunc(pingPong)
	apiRoutes.Path("/tiles/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}").HandlerFunc(s.handleTile).Methods(http.MethodGet)

	apiJSONRoutes := apiRoutes.NewRoute().Subrouter()
	apiJSONRoutes.Use(contentTypeMiddlewareFunc("application/json"))

	apiJSONRoutes.Path("/status").HandlerFunc(s.statusReport).Methods(http.MethodGet)
	apiJSONRoutes.Path("/frame").HandlerFunc(s.handleFrame).Methods(http.MethodGet)

	authenticatedAPIRoutes := apiJSONRoutes.NewRoute().Subrouter()
	authenticatedAPIRoutes.Use(s.tokenAuthenticationMiddleware)
	authenticatedAPIRoutes.Path("/camera").HandlerFunc(s.handleCamera).Methods(http.MethodPost, http.MethodOptions)

	return router
}
