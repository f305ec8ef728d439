package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fieldsync-server/internal/audit"
	"fieldsync-server/internal/middleware"
	"fieldsync-server/internal/model"
)

// AuditHandler accepts client-side audit batches and feeds them into
// the shared buffer.
type AuditHandler struct {
	Buffer  *audit.Buffer
	AppName string
}

type auditEntry struct {
	Date time.Time `json:"d_date"`
	Data string    `json:"c_data"`
	Type string    `json:"c_type"`
}

func (h *AuditHandler) Receive(c *gin.Context) {
	p := middleware.PrincipalFromContext(c)
	if !p.IsAuthorized {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	var entries []auditEntry
	if err := c.ShouldBindJSON(&entries); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	for _, e := range entries {
		date := e.Date
		if date.IsZero() {
			date = time.Now()
		}
		h.Buffer.Record(model.AuditRecord{
			UserID:  p.ID,
			Date:    date,
			Data:    e.Data,
			Type:    e.Type,
			AppName: h.AppName,
		})
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "total": len(entries)})
}
