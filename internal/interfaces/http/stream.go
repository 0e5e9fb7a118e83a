package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/application"
	"github.com/sawpanic/backtester/internal/domain"
)

const (
	streamWriteWait     = 10 * time.Second
	streamReadLimit     = 32 << 20
	streamRequestWait   = 30 * time.Second
	streamProgressEvery = 100 * time.Millisecond
)

// StreamHandler runs one scenario per websocket connection and pushes
// progress while it runs. Closing the socket cancels the run.
type StreamHandler struct {
	api      *API
	metrics  *MetricsRegistry
	upgrader websocket.Upgrader
}

// NewStreamHandler creates the /ws/scenarios handler
func NewStreamHandler(api *API, metrics *MetricsRegistry, anyOrigin bool) *StreamHandler {
	return &StreamHandler{
		api:     api,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return anyOrigin || origin == "" || isLocalOrigin(origin)
			},
		},
	}
}

// streamConn serializes writes; progress arrives from pool workers
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	last time.Time
}

func (c *streamConn) send(msg StreamMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return c.conn.WriteJSON(msg)
}

// progress forwards throttled updates; the final one is always sent
func (c *streamConn) progress(kind string) func(done, total int) {
	return func(done, total int) {
		c.mu.Lock()
		due := done >= total || time.Since(c.last) >= streamProgressEvery
		if due {
			c.last = time.Now()
		}
		c.mu.Unlock()
		if !due {
			return
		}
		if err := c.send(StreamMessage{Type: MessageProgress, Kind: kind, Done: done, Total: total}); err != nil {
			log.Debug().Err(err).Msg("Dropping progress update")
		}
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("request_id", RequestID(r.Context())).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	h.metrics.StreamsOpen.Inc()
	defer h.metrics.StreamsOpen.Dec()

	requestID := RequestID(r.Context())
	sc := &streamConn{conn: conn}
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamRequestWait))

	var req StreamRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.fail(sc, requestID, "", fmt.Errorf("decode stream request: %w", err))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// any further read error means the client went away
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	log.Info().Str("request_id", requestID).Str("kind", req.Kind).Msg("Scenario stream started")
	result, err := h.run(ctx, req, sc.progress(req.Kind))
	if err != nil {
		h.fail(sc, requestID, req.Kind, err)
		return
	}
	if err := sc.send(StreamMessage{Type: MessageResult, Kind: req.Kind, Result: result}); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("Failed to send stream result")
		return
	}
	sc.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(streamWriteWait))
	sc.mu.Unlock()
}

func (h *StreamHandler) run(ctx context.Context, req StreamRequest, progress func(done, total int)) (any, error) {
	svc := h.api.svc
	switch req.Kind {
	case KindCompare:
		var body application.CompareRequest
		if err := unmarshalRequest(req.Request, &body); err != nil {
			return nil, err
		}
		return svc.Compare(ctx, body, progress)
	case KindOptimize:
		var body application.OptimizeRequest
		if err := unmarshalRequest(req.Request, &body); err != nil {
			return nil, err
		}
		return svc.Optimize(ctx, body, progress)
	case KindRolling:
		var body application.RollingRequest
		if err := unmarshalRequest(req.Request, &body); err != nil {
			return nil, err
		}
		return svc.Rolling(ctx, body, progress)
	case KindMonteCarlo:
		var body application.MonteCarloRequest
		if err := unmarshalRequest(req.Request, &body); err != nil {
			return nil, err
		}
		return svc.MonteCarlo(ctx, body, progress)
	default:
		return nil, domain.NewConfigError(domain.ErrInvalidConfig, "kind", fmt.Sprintf("unknown scenario kind %q", req.Kind))
	}
}

func unmarshalRequest(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return domain.NewConfigError(domain.ErrInvalidConfig, "request", "missing")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode scenario request: %w", err)
	}
	return nil
}

func (h *StreamHandler) fail(sc *streamConn, requestID, kind string, err error) {
	_, resp := errorResponse(err)
	resp.RequestID = requestID
	log.Warn().Err(err).Str("request_id", requestID).Str("kind", kind).Msg("Scenario stream failed")
	if sendErr := sc.send(StreamMessage{Type: MessageError, Kind: kind, Error: &resp}); sendErr != nil {
		log.Debug().Err(sendErr).Msg("Failed to send stream error")
	}
}
