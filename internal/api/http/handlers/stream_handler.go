package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tallerflow/ticket-service/internal/service"
	"github.com/tallerflow/ticket-service/internal/store"
)

const streamBuffer = 64

// StreamHandler pushes ticket changes to board clients over server-sent
// events.
type StreamHandler struct {
	service   *service.TicketService
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewStreamHandler constructs handler.
func NewStreamHandler(ticketService *service.TicketService, heartbeat time.Duration, logger *zap.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{service: ticketService, heartbeat: heartbeat, logger: logger}
}

type changeEvent struct {
	ID   string           `json:"id"`
	Kind store.ChangeKind `json:"kind"`
}

// Stream GET /tickets/stream. Changes that arrive while the client's buffer
// is full are dropped; clients refetch on the "resync" event.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan store.Change, streamBuffer)
	unsubscribe, err := h.service.Subscribe(ctx, func(ch store.Change) {
		select {
		case changes <- ch:
		default:
			select {
			case changes <- store.Change{Kind: "resync"}:
			default:
			}
		}
	})
	if err != nil {
		cancel()
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer unsubscribe()

		heartbeat := time.NewTicker(h.heartbeat)
		defer heartbeat.Stop()

		writeSSE(w, "connected", map[string]string{"type": "connected"})
		if err := w.Flush(); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(w, "heartbeat", map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			case ch := <-changes:
				if ch.Kind == "resync" {
					writeSSE(w, "resync", map[string]string{})
				} else {
					writeSSE(w, "ticket", changeEvent{ID: ch.Ref.ID, Kind: ch.Kind})
				}
			}
			if err := w.Flush(); err != nil {
				h.logger.Debug("stream client gone", zap.Error(err))
				return
			}
		}
	})
	return nil
}

func writeSSE(w *bufio.Writer, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
