package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ccxuy/easyrun/server/internal/registry"
	"github.com/ccxuy/easyrun/server/internal/store"
)

// NodeHandler groups the Node Registry's HTTP handlers (spec.md §6).
type NodeHandler struct {
	reg *registry.Registry
	log *zap.Logger
}

// NewNodeHandler creates a NodeHandler.
func NewNodeHandler(reg *registry.Registry, log *zap.Logger) *NodeHandler {
	return &NodeHandler{reg: reg, log: log.Named("node_handler")}
}

// List handles GET /api/v1/nodes.
func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.reg.List(r.Context())
	if err != nil {
		h.log.Error("failed to list nodes", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"nodes": nodes})
}

type registerNodeRequest struct {
	ID   string   `json:"id,omitempty"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

// Register handles POST /api/v1/nodes/register.
func (h *NodeHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}
	node, err := h.reg.Register(r.Context(), req.ID, req.Name, req.Tags, nil)
	if err != nil {
		h.log.Error("failed to register node", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"id": node.ID, "status": "registered"})
}

// Ping handles POST /api/v1/nodes/{id}/ping.
func (h *NodeHandler) Ping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	node, err := h.reg.Heartbeat(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ErrNotFound(w, "node not found")
			return
		}
		h.log.Error("failed to record heartbeat", zap.String("node_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	resp := map[string]any{"status": "ok"}
	if node.CurrentJobID != nil {
		resp["pending_job"] = *node.CurrentJobID
	}
	Ok(w, resp)
}

// Remove handles DELETE /api/v1/nodes/{id}.
func (h *NodeHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.reg.Remove(r.Context(), id); err != nil {
		h.log.Error("failed to remove node", zap.String("node_id", id), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, map[string]any{"status": "removed"})
}
