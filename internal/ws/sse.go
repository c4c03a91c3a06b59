package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/realstake/realstake-backend/internal/store"
	"go.uber.org/zap"
)

const sseHeartbeat = 30 * time.Second

type SSEHandler struct {
	subscriber     Subscriber
	allowedOrigins []string
	heartbeat      time.Duration
	logger         *zap.SugaredLogger
}

func NewSSEHandler(subscriber Subscriber, allowedOrigins []string, logger *zap.SugaredLogger) *SSEHandler {
	return &SSEHandler{
		subscriber:     subscriber,
		allowedOrigins: allowedOrigins,
		heartbeat:      sseHeartbeat,
		logger:         logger,
	}
}

// HandleSSE streams order book updates. ?markets=1,2 limits the stream to
// those markets; without it every market is streamed.
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	channels, err := parseMarketChannels(r.URL.Query().Get("markets"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if origin := r.Header.Get("Origin"); origin != "" && originChecker(h.allowedOrigins)(r) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	h.logger.Debugw("SSE connection established", "channels", channels)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.subscriber.Subscribe(ctx, channels...)
	defer sub.Close()

	h.stream(ctx, w, sub)
}

func parseMarketChannels(param string) ([]string, error) {
	if strings.TrimSpace(param) == "" {
		return []string{store.ChannelOrderbookAll}, nil
	}

	var channels []string
	for _, part := range strings.Split(param, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid market id %q", part)
		}
		channels = append(channels, store.OrderbookChannel(id))
	}
	if len(channels) == 0 {
		return []string{store.ChannelOrderbookAll}, nil
	}
	return channels, nil
}

func (h *SSEHandler) stream(ctx context.Context, w http.ResponseWriter, sub store.Subscription) {
	h.sendEvent(w, "connected", "SSE connection established", nil)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, "heartbeat", "ping", map[string]interface{}{
				"timestamp": time.Now().Unix(),
			})

		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}

			var data interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &data); err != nil {
				h.logger.Warnw("Failed to parse message payload", "channel", msg.Channel, "error", err)
				continue
			}

			id := msg.Channel
			if topic, ok := TopicForChannel(msg.Channel); ok {
				id = topic
			}
			h.sendEvent(w, "orderbook_update", id, data)
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType, id string, data interface{}) {
	payload := []byte("{}")
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			h.logger.Errorw("Failed to marshal SSE data", "error", err)
			return
		}
		payload = b
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", payload)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
