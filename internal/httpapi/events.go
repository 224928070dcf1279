package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"llmbridge/internal/events"
	"llmbridge/pkg/types"
)

var (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin allows requests without an Origin header, same-host origins and,
// with CORS enabled, the configured origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if corsEnabled {
		for _, o := range corsAllowedOrigins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// handleEvents streams bridge events over a websocket. ?handle=N limits the
// stream to one model. Each connection has a bounded queue; a client that
// cannot keep up is disconnected rather than slowing the generating
// goroutine.
//
// @Summary  Event stream (websocket)
// @Tags     events
// @Param    handle  query  int  false  "only events for this handle"
// @Success  101
// @Router   /v1/events [get]
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var filter *types.Handle
	if v := r.URL.Query().Get("handle"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "handle must be an integer")
			return
		}
		h := types.Handle(n)
		filter = &h
	}

	// subscribe before the handshake completes so a client that publishes
	// work right after dialing misses nothing
	queue := make(chan events.Event, eventBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once
	unsubscribe := s.svc.Subscribe(func(e events.Event) {
		if filter != nil && e.Handle != *filter {
			return
		}
		select {
		case queue <- e:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		return
	}
	defer conn.Close()

	log := reqLogger(r).With().Str("conn_id", uuid.NewString()).Logger()
	log.Debug().Msg("event stream open")
	eventStreams.Inc()
	defer eventStreams.Dec()

	// the client sends nothing; reading surfaces its close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	closeWith := func(code int, text string) {
		msg := websocket.FormatCloseMessage(code, text)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}

	for {
		select {
		case e := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				eventStreamDrops.WithLabelValues("write").Inc()
				log.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				eventStreamDrops.WithLabelValues("ping").Inc()
				return
			}
		case <-overflow:
			eventStreamDrops.WithLabelValues("slow_client").Inc()
			log.Warn().Int("buffer", eventBuffer).Msg("event stream client too slow, closing")
			closeWith(websocket.CloseTryAgainLater, "event queue overflow")
			return
		case <-gone:
			log.Debug().Msg("event stream closed by client")
			return
		case <-serverBaseCtx.Done():
			closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}
