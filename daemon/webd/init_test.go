package webd

import (
	"log/slog"
	"testing"

	"github.com/rotblauer/geotiles/common"
	"github.com/rotblauer/geotiles/params"
	"github.com/rotblauer/geotiles/session"
	"github.com/rotblauer/geotiles/testing/testdata"
)

// newTestWebDaemon builds a daemon over a generated tile source and an
// in-memory disk tier. The frame loop is not started.
func newTestWebDaemon(t *testing.T) (*WebDaemon, *testdata.Source) {
	t.Helper()
	t.Cleanup(common.SlogResetLevel(slog.LevelWarn))
	config := params.DefaultTestWebDaemonConfig()
	config.Map.Zoom.TileSize = 64
	src := testdata.NewSource(config.Map.Zoom.TileSize)
	s, err := session.NewWith(config.Map, src, testdata.NewStore())
	if err != nil {
		t.Fatal(err)
	}
	d := NewWebDaemonWith(config, s)
	t.Cleanup(func() {
		d.eventSub.Unsubscribe()
		_ = d.melodyInstance.Close()
		_ = s.Close()
	})
	return d, src
}
