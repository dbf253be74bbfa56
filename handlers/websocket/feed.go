// Package websocket pushes the clipboard window to pages over socket.io.
package websocket

import (
	"net/http"

	"clipsync/core"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Room every page socket joins.
const Room socketio.Room = "clipboard"

const (
	EventEntries     = "entries"
	EventSyncEntries = "sync-entries"
)

// Feed is the live window the server broadcasts.
type Feed interface {
	Entries() []core.Entry
	OnChange(fn func([]core.Entry)) (remove func())
}

type Server struct {
	srv    *socketio.Server
	feed   Feed
	remove func()
}

func NewServer(feed Feed) *Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		srv:  socketio.NewServer(nil, opts),
		feed: feed,
	}

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	s.srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		s.handleConnection(socket)
	})

	s.remove = feed.OnChange(s.broadcast)
	return s
}

func (s *Server) handleConnection(socket *socketio.Socket) {
	me := socket.Id()
	socket.Join(Room)
	logrus.WithField("socket", me).Debug("Page connected")

	_ = socket.Emit(EventEntries, s.feed.Entries())

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On(EventSyncEntries, func(datas ...any) {
		entries := s.feed.Entries()
		ack, _ := extractAck(datas)
		if ack == nil {
			_ = socket.Emit(EventEntries, entries)
			return
		}
		ack(nil, syncPayload(entries))
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	socket.On("disconnect", func(datas ...any) {
		logrus.WithField("socket", me).Debug("Page disconnected")
		socket.RemoveAllListeners("")
	})
}

func syncPayload(entries []core.Entry) map[string]any {
	return map[string]any{
		"status":  "ok",
		"entries": entries,
	}
}

func (s *Server) broadcast(entries []core.Entry) {
	if err := s.srv.To(Room).Emit(EventEntries, entries); err != nil {
		logrus.WithError(err).Warn("Failed to broadcast entries")
	}
}

// Handler serves the socket.io endpoint.
func (s *Server) Handler() http.Handler {
	return s.srv.ServeHandler(nil)
}

func (s *Server) Close() {
	s.remove()
	s.srv.Close(nil)
}
