package webd

import (
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/event"
	"github.com/olahol/melody"
	"github.com/rotblauer/geotiles/geo/origin"
	"github.com/rotblauer/geotiles/visible"
)

type websocketAction string

var (
	actionTile   websocketAction = "tile"
	actionRebase websocketAction = "rebase"
	actionFrame  websocketAction = "frame"
)

type socketMessage struct {
	Action websocketAction `json:"action"`
	Event  *visible.Event  `json:"event,omitempty"`
	Rebase *origin.Rebase  `json:"rebase,omitempty"`
	Frame  *frameSummary   `json:"frame,omitempty"`
}

// tileEventBuffer bounds how far the broadcaster may lag the frame loop
// before Update blocks on the event feed.
const tileEventBuffer = 1024

// initMelody sets up the websocket handler.
func (s *WebDaemon) initMelody() {
	s.melodyInstance = melody.New()

	// New clients get the latest frame; tiles follow as events.
	s.melodyInstance.HandleConnect(func(m *melody.Session) {
		s.logger.Info("Websocket connected", "remote", m.Request.RemoteAddr)
		f := s.lastFrame()
		b, err := json.Marshal(socketMessage{Action: actionFrame, Frame: &f})
		if err != nil {
			return
		}
		_ = m.Write(b)
	})

	// Clients may steer the camera with the same body POST /camera takes.
	s.melodyInstance.HandleMessage(func(m *melody.Session, msg []byte) {
		req := cameraRequest{}
		if err := json.Unmarshal(msg, &req); err != nil {
			s.logger.Debug("Websocket message dropped", "error", err, "remote", m.Request.RemoteAddr)
			return
		}
		c, err := s.cameraFor(req)
		if err != nil {
			s.logger.Warn("Websocket camera rejected", "error", err)
			return
		}
		s.setCamera(c)
	})

	s.melodyInstance.HandleDisconnect(func(m *melody.Session) {
		s.logger.Info("Websocket disconnected", "remote", m.Request.RemoteAddr)
	})

	s.melodyInstance.HandleError(func(m *melody.Session, e error) {
		s.logger.Warn("Websocket error", "error", e, "remote", m.Request.RemoteAddr)
	})

	events := make(chan visible.Event, tileEventBuffer)
	s.eventSub = s.session.SubscribeEvents(events)
	go s.broadcastEvents(events, s.eventSub)
}

// broadcastEvents forwards tile events until the subscription ends.
func (s *WebDaemon) broadcastEvents(events chan visible.Event, sub event.Subscription) {
	for {
		select {
		case e := <-events:
			s.broadcast(socketMessage{Action: actionTile, Event: &e})
		case err := <-sub.Err():
			if err != nil {
				slog.Error("Tile event subscription failed", "error", err)
			}
			return
		}
	}
}

func (s *WebDaemon) broadcast(msg socketMessage) {
	if s.melodyInstance.IsClosed() || s.melodyInstance.Len() == 0 {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal websocket message", "action", msg.Action, "error", err)
		return
	}
	if err := s.melodyInstance.Broadcast(b); err != nil {
		s.logger.Warn("Failed to broadcast", "action", msg.Action, "error", err)
	}
}
