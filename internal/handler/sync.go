package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldsync-server/internal/middleware"
	"fieldsync-server/internal/rpc"
	syncdrv "fieldsync-server/internal/sync"
)

// SyncHandler is the HTTP test channel for the exchange protocol: the
// raw package rides in the request body, the response body is the
// outbound package bytes. Production clients use the socket flow.
type SyncHandler struct {
	Processor *syncdrv.Processor
	AppName   string
}

func (h *SyncHandler) Exchange(c *gin.Context) {
	version := c.Param("version")
	if version != "v1" {
		c.Data(http.StatusInternalServerError, "application/octet-stream", []byte("unsupported protocol version "+version))
		return
	}

	p := middleware.PrincipalFromContext(c)
	if !p.IsAuthorized {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Data(http.StatusInternalServerError, "application/octet-stream", []byte(err.Error()))
		return
	}

	sess := &rpc.Session{
		Principal:     p,
		App:           h.AppName,
		AuthorizeTime: middleware.AuthorizeTimeFromContext(c),
	}
	out, err := h.Processor.Exchange(c.Request.Context(), sess, raw, nil)
	if err != nil {
		c.Data(http.StatusInternalServerError, "application/octet-stream", []byte(err.Error()))
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", out)
}
