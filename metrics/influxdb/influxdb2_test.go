package influxdb

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotblauer/geotiles/metrics"
	"github.com/rotblauer/geotiles/params"
)

func TestPoint(t *testing.T) {
	p := metrics.NewPipeline()
	defer p.Stop()
	p.MemoryHits.Inc(3)
	p.ObserveFetch(20*time.Millisecond, 1024)

	at := time.Unix(1700000000, 0)
	pt := Point("osm", p.Snapshot(), at)
	if pt.Name() != measurement || !pt.Time().Equal(at) {
		t.Fatalf("point %s at %v", pt.Name(), pt.Time())
	}
	fields := map[string]interface{}{}
	for _, f := range pt.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["memory_hits"] != int64(3) || fields["fetched"] != int64(1) || fields["fetched_bytes"] != int64(1024) {
		t.Errorf("fields %v", fields)
	}
	if tags := pt.TagList(); len(tags) != 1 || tags[0].Value != "osm" {
		t.Errorf("tags %v", tags)
	}
}

func TestExport(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	config := &params.InfluxDBConfig{URL: srv.URL, Token: "t", Org: "o", Bucket: "b"}
	s := metrics.Snapshot{Fetched: 7}
	if err := Export(config, Point("osm", s, time.Now())); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) == 0 || !strings.Contains(bodies[0], "geotiles,source=osm") || !strings.Contains(bodies[0], "fetched=7i") {
		t.Errorf("wrote %q", bodies)
	}
}
