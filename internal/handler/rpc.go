package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldsync-server/internal/dataset"
	"fieldsync-server/internal/middleware"
	"fieldsync-server/internal/model"
	"fieldsync-server/internal/rpc"
)

type RPCHandler struct {
	Dispatcher *rpc.Dispatcher
	Collab     dataset.Collaborator
	Namespace  string
	Version    string
	AppName    string
}

// Post runs a batch of items. The body is either a single item object
// or an array of items; results always come back as an array, except
// for the unauthenticated case which answers a bare envelope.
func (h *RPCHandler) Post(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	items, err := decodeItems(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	sess := h.session(c)
	results, unauthorized := h.Dispatcher.ProcessBatch(c.Request.Context(), sess, items)
	if unauthorized {
		c.JSON(http.StatusOK, results[0])
		return
	}
	c.JSON(http.StatusOK, results)
}

// Meta answers the remoting descriptor used by clients to generate
// their proxy objects.
func (h *RPCHandler) Meta(c *gin.Context) {
	sess := h.session(c)

	dbVersion, err := h.Collab.DataVersion(c.Request.Context())
	if err != nil {
		dbVersion = "0.0.0.0"
	}
	desc, err := h.Dispatcher.Describe(c.Request.Context(), sess, h.Namespace, h.Version, dbVersion)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, desc)
}

// ViewActions lists the per-user UI action rows.
func (h *RPCHandler) ViewActions(c *gin.Context) {
	sess := h.session(c)
	rows, err := h.Collab.ViewActions(c.Request.Context(), sess.Principal.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows, "total": len(rows)})
}

// CacheReload drops every cached permission snapshot.
func (h *RPCHandler) CacheReload(c *gin.Context) {
	h.Dispatcher.Cache.Reset()
	c.String(http.StatusOK, "SUCCESS")
}

func (h *RPCHandler) session(c *gin.Context) *rpc.Session {
	app := c.Query("app")
	if app == "" {
		app = h.AppName
	}
	return &rpc.Session{
		Principal:     middleware.PrincipalFromContext(c),
		App:           app,
		AuthorizeTime: middleware.AuthorizeTimeFromContext(c),
	}
}

func decodeItems(raw []byte) ([]model.Item, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var item model.Item
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, err
		}
		return []model.Item{item}, nil
	}
	var items []model.Item
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	return items, nil
}
