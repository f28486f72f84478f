package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/eventbus"
	"github.com/ccxuy/easyrun/shared/types"
)

// WSHandler handles the GUI's event subscription endpoint, GET
// /api/v1/ws. There is no per-user notification channel in this data
// model — every subscriber sees the same fleet-wide stream, scoped only by
// the topics it asks for.
type WSHandler struct {
	bus *eventbus.Bus
	log *zap.Logger
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(bus *eventbus.Bus, log *zap.Logger) *WSHandler {
	return &WSHandler{bus: bus, log: log.Named("ws_handler")}
}

// ServeWS handles GET /api/v1/ws?topics=job.update,plan.update. An empty or
// missing topics query subscribes to every topic the bus carries. Blocks
// until the connection closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var topics []string
	if raw := r.URL.Query().Get("topics"); raw != "" {
		topics = strings.Split(raw, ",")
	} else {
		for _, t := range []types.EventTopic{types.TopicJobUpdate, types.TopicJobLog, types.TopicPlanUpdate, types.TopicPlanStepUpdate, types.TopicNodeUpdate} {
			topics = append(topics, string(t))
		}
	}

	client, err := eventbus.NewWSClient(h.bus, w, r, topics, h.log)
	if err != nil {
		h.log.Warn("ws: upgrade failed", zap.Error(err))
		return
	}

	h.log.Info("ws: client connected", zap.String("remote_addr", r.RemoteAddr), zap.Strings("topics", topics))
	client.Run()
	h.log.Info("ws: client disconnected", zap.String("remote_addr", r.RemoteAddr))
}
