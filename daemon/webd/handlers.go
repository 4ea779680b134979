package webd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/loader"
	"github.com/rotblauer/geotiles/metrics"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/session"
	"github.com/rotblauer/geotiles/tile"
)

var errBadCamera = errors.New("bad camera")

func pingPong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

type webDaemonStatus struct {
	StartedAt time.Time               `json:"started_at"`
	Uptime    string                  `json:"uptime"`
	Config    *params.WebDaemonConfig `json:"config"`
	Source    string                  `json:"source"`
	WSOpen    bool                    `json:"ws_open"`
	WSConns   int                     `json:"ws_conns"`
	Frame     frameSummary            `json:"frame"`
	Metrics   metrics.Snapshot        `json:"metrics"`
}

func (s *WebDaemon) statusReport(w http.ResponseWriter, r *http.Request) {
	st := webDaemonStatus{
		StartedAt: s.started,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Config:    s.Config,
		Source:    s.session.Describe(),
		WSOpen:    !s.melodyInstance.IsClosed(),
		WSConns:   s.melodyInstance.Len(),
		Frame:     s.lastFrame(),
		Metrics:   s.session.Metrics().Snapshot(),
	}
	j, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal status", "error", err)
		http.Error(w, "Failed to marshal status", http.StatusInternalServerError)
		return
	}
	if _, err = w.Write(j); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *WebDaemon) handleFrame(w http.ResponseWriter, r *http.Request) {
	if err := json.NewEncoder(w).Encode(s.lastFrame()); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// handleTile serves tile bytes through the disk tier, fetching on a miss.
func (s *WebDaemon) handleTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, err := tile.ParseAddress(fmt.Sprintf("%s/%s/%s", vars["z"], vars["x"], vars["y"]))
	if err == nil && !a.Valid() {
		err = fmt.Errorf("%w: %v", tile.ErrInvalidAddress, a)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := s.session.Loader().Load(r.Context(), loader.Request{Address: a})
	switch {
	case res.Err == nil:
	case errors.Is(res.Err, loader.ErrTileNotFound):
		http.Error(w, "no such tile", http.StatusNotFound)
		return
	default:
		s.logger.Warn("Tile request failed", "tile", a, "error", res.Err)
		http.Error(w, "tile unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/"+res.Format)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := w.Write(res.Bytes); err != nil {
		s.logger.Warn("Failed to write tile", "tile", a, "error", err)
	}
}

// cameraRequest moves the camera. Lon and Lat recentre it; otherwise the pan
// and zoom offsets apply to the last requested camera.
type cameraRequest struct {
	Lon    *float64 `json:"lon,omitempty"`
	Lat    *float64 `json:"lat,omitempty"`
	Zoom   *float64 `json:"zoom,omitempty"`
	Width  int      `json:"width,omitempty"`
	Height int      `json:"height,omitempty"`
	PanX   float64  `json:"pan_x,omitempty"`
	PanY   float64  `json:"pan_y,omitempty"`
	ZoomBy float64  `json:"zoom_by,omitempty"`
}

func (s *WebDaemon) cameraFor(req cameraRequest) (session.Camera, error) {
	tileSize := s.Config.Map.Zoom.TileSize
	c := s.targetCamera()
	if req.Width < 0 || req.Height < 0 {
		return c, fmt.Errorf("%w: viewport %dx%d", errBadCamera, req.Width, req.Height)
	}
	if req.Width > 0 {
		c.Width = req.Width
	}
	if req.Height > 0 {
		c.Height = req.Height
	}
	zoom := c.ZoomLevel(tileSize)
	if req.Zoom != nil {
		zoom = *req.Zoom
	}
	if zoom < 0 || zoom > params.MaxZoomLimit {
		return c, fmt.Errorf("%w: zoom %v", errBadCamera, zoom)
	}

	switch {
	case req.Lon != nil && req.Lat != nil:
		moved, err := session.NewCamera(mercator.GeoPoint{Lon: *req.Lon, Lat: *req.Lat}, zoom, c.Width, c.Height, tileSize)
		if err != nil {
			return c, err
		}
		c = moved
	case req.Lon != nil || req.Lat != nil:
		return c, fmt.Errorf("%w: lon and lat go together", errBadCamera)
	default:
		c.PixelsPerMeter = tile.ScaleForZoom(zoom, tileSize)
	}

	c = c.Pan(req.PanX, req.PanY)
	if req.ZoomBy != 0 {
		c = c.ZoomBy(req.ZoomBy)
		if z := c.ZoomLevel(tileSize); z < 0 || z > params.MaxZoomLimit {
			return c, fmt.Errorf("%w: zoom %v", errBadCamera, z)
		}
	}
	return c, nil
}

// handleCamera queues a camera for the next frame and echoes it back.
func (s *WebDaemon) handleCamera(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	req := cameraRequest{}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Failed to decode camera", http.StatusUnprocessableEntity)
		return
	}
	c, err := s.cameraFor(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.setCamera(c)
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(c); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
