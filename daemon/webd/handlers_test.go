package webd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotblauer/geotiles/geo/mercator"
	"github.com/rotblauer/geotiles/loader"
	"github.com/rotblauer/geotiles/testing/testdata"
	"github.com/rotblauer/geotiles/tile"
	"github.com/tidwall/gjson"
)

func TestWebDaemon_ping(t *testing.T) {
	req := httptest.NewRequest("GET", "http://geotiles.test/ping", nil)
	w := httptest.NewRecorder()
	pingPong(w, req)
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		t.Fatalf("status code not 200")
	}
	if string(body) != "pong" {
		t.Errorf("body is not pong: %s", string(body))
	}
}

func TestWebDaemon_statusReport(t *testing.T) {
	d, _ := newTestWebDaemon(t)
	req := httptest.NewRequest("GET", "http://geotiles.test/status", nil)
	w := httptest.NewRecorder()
	d.NewRouter().ServeHTTP(w, req)
	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type %q", ct)
	}
	if gjson.GetBytes(body, "uptime").String() == "" {
		t.Error("uptime is empty")
	}
	if got := gjson.GetBytes(body, "source").String(); got != "testdata" {
		t.Errorf("source %q", got)
	}
	if got := gjson.GetBytes(body, "frame.zoom").Int(); got != int64(d.Config.Map.Start.Zoom) {
		t.Errorf("frame zoom %d", got)
	}
}

func TestWebDaemon_cors(t *testing.T) {
	d, _ := newTestWebDaemon(t)
	d.Config.Token = "secret"
	router := d.NewRouter()

	req := httptest.NewRequest(http.MethodOptions, "http://geotiles.test/camera", nil)
	req.Header.Set("Origin", "http://viewer.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("preflight status %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("preflight allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "http://geotiles.test/ping", nil)
	req.Header.Set("Origin", "http://viewer.test")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("ping allow origin %q", got)
	}
}

func TestWebDaemon_tiles(t *testing.T) {
	d, src := newTestWebDaemon(t)
	router := d.NewRouter()

	get := func(path string) *http.Response {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "http://geotiles.test"+path, nil))
		return w.Result()
	}

	a := tile.New(3, 2, 3)
	resp := get("/tiles/3/2/3")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type %q", ct)
	}
	if !bytes.Equal(body, testdata.TilePNG(a, d.Config.Map.Zoom.TileSize)) {
		t.Error("served bytes differ from the source")
	}

	// Second request is served from the disk tier.
	get("/tiles/3/2/3")
	if n := src.Calls(a); n != 1 {
		t.Errorf("source fetched %d times", n)
	}

	missing := tile.New(4, 1, 1)
	src.SetErr(missing, loader.ErrTileNotFound)
	if resp := get("/tiles/4/1/1"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing tile status %d", resp.StatusCode)
	}
	broken := tile.New(4, 2, 2)
	src.SetErr(broken, loader.ErrFetch)
	if resp := get("/tiles/4/2/2"); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("broken tile status %d", resp.StatusCode)
	}
	if resp := get("/tiles/3/9/0"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out of range tile status %d", resp.StatusCode)
	}
}

func TestWebDaemon_tileJoinsFrameFetch(t *testing.T) {
	d, src := newTestWebDaemon(t)
	router := d.NewRouter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.session.Start(ctx)

	src.Block()
	defer src.Release()
	camera := d.session.Camera()
	d.frame(camera)
	a := tile.ForViewport(camera.Bounds(), d.session.Zoom(), 0)[0]
	for deadline := time.Now().Add(5 * time.Second); src.Calls(a) == 0; {
		if time.Now().After(deadline) {
			t.Fatalf("tile %v never fetched by the frame", a)
		}
		time.Sleep(time.Millisecond)
	}

	done := make(chan *http.Response)
	go func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "http://geotiles.test/tiles/"+a.String(), nil))
		done <- w.Result()
	}()
	// Let the request reach the loader before the frame's fetch finishes.
	time.Sleep(50 * time.Millisecond)
	src.Release()

	select {
	case resp := <-done:
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d", resp.StatusCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tile request never answered")
	}
	if n := src.Calls(a); n != 1 {
		t.Errorf("tile %v fetched %d times, want 1", a, n)
	}
	if n := src.Overlaps(); n != 0 {
		t.Errorf("%d overlapping fetches", n)
	}
}

func TestWebDaemon_camera(t *testing.T) {
	d, _ := newTestWebDaemon(t)
	d.Config.Token = "sekret"
	router := d.NewRouter()

	post := func(body, token string) *http.Response {
		req := httptest.NewRequest("POST", "http://geotiles.test/camera", strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Result()
	}

	if resp := post(`{"lon": 2.35, "lat": 48.85, "zoom": 5}`, ""); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("no token: status %d", resp.StatusCode)
	}
	resp := post(`{"lon": 2.35, "lat": 48.85, "zoom": 5}`, "sekret")
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	c := <-d.cameras
	if g := c.Geo(); math.Abs(g.Lon-2.35) > 1e-9 || math.Abs(g.Lat-48.85) > 1e-9 {
		t.Errorf("camera at %v", g)
	}
	d.frame(c)
	if f := d.lastFrame(); f.Number != 1 || f.Zoom != 5 {
		t.Errorf("frame %+v", f)
	}

	// Pans apply to the last requested camera, not the last rendered one.
	post(`{"pan_x": 64}`, "sekret")
	post(`{"pan_x": 64}`, "sekret")
	panned := <-d.cameras
	if dx := panned.Center.X - c.Center.X; math.Abs(dx-128/c.PixelsPerMeter) > 1e-6 {
		t.Errorf("panned %v meters", dx)
	}

	if resp := post(`{"lon": 1}`, "sekret"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("lon without lat: status %d", resp.StatusCode)
	}
	if resp := post(`not json`, "sekret"); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("garbage: status %d", resp.StatusCode)
	}
}

func TestWebDaemon_cameraFor(t *testing.T) {
	d, _ := newTestWebDaemon(t)
	lat, lon, deep := 89.0, 0.0, 40.0
	if _, err := d.cameraFor(cameraRequest{Lon: &lon, Lat: &lat}); !errors.Is(err, mercator.ErrProjectionOutOfRange) {
		t.Errorf("pole: %v", err)
	}
	if _, err := d.cameraFor(cameraRequest{Zoom: &deep}); !errors.Is(err, errBadCamera) {
		t.Errorf("deep zoom: %v", err)
	}
	if _, err := d.cameraFor(cameraRequest{ZoomBy: 40}); !errors.Is(err, errBadCamera) {
		t.Errorf("deep zoom by: %v", err)
	}
	c, err := d.cameraFor(cameraRequest{Width: 1024, Height: 768, ZoomBy: 1})
	if err != nil {
		t.Fatal(err)
	}
	if c.Width != 1024 || c.Height != 768 {
		t.Errorf("viewport %dx%d", c.Width, c.Height)
	}
	if z := c.ZoomLevel(d.Config.Map.Zoom.TileSize); math.Abs(z-d.Config.Map.Start.Zoom-1) > 1e-9 {
		t.Errorf("zoom %v", z)
	}
}

func TestWebDaemon_socketStreamsTiles(t *testing.T) {
	d, _ := newTestWebDaemon(t)
	srv := httptest.NewServer(d.NewRouter())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/socket", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(msg, "action").String(); got != string(actionFrame) {
		t.Fatalf("first message %s", msg)
	}
	for deadline := time.Now().Add(time.Second); d.melodyInstance.Len() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("socket never registered")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.session.Start(ctx)
	go func() {
		defer close(done)
		d.loop(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if gjson.GetBytes(msg, "action").String() != string(actionTile) {
			continue
		}
		ev := gjson.GetBytes(msg, "event")
		if ev.Get("kind").String() == "" || !ev.Get("address.z").Exists() {
			t.Fatalf("tile message %s", msg)
		}
		break
	}

	// Camera over the socket reaches the frame loop.
	before := d.targetCamera()
	b, _ := json.Marshal(map[string]float64{"pan_x": 10})
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatal(err)
	}
	for deadline := time.Now().Add(time.Second); d.targetCamera().Center.X == before.Center.X; {
		if time.Now().After(deadline) {
			t.Fatal("socket camera never applied")
		}
		time.Sleep(time.Millisecond)
	}
}
