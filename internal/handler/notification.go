package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fieldsync-server/internal/registry"
	"fieldsync-server/internal/socketio"
)

// NotificationHandler pushes server-initiated events to live socket
// connections, addressed by login or by role claim.
type NotificationHandler struct {
	Connections *registry.Registry
}

type notificationBody struct {
	Logins []string `json:"logins"`
	Claim  string   `json:"claim"`
	Data   any      `json:"data"`
}

func (h *NotificationHandler) Push(c *gin.Context) {
	var body notificationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if len(body.Logins) == 0 && body.Claim == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	message, err := socketio.EventMessage("notification", body.Data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	delivered := 0
	for _, login := range body.Logins {
		delivered += h.Connections.Broadcast(login, message)
	}
	if body.Claim != "" {
		delivered += h.Connections.BroadcastClaim(body.Claim, message)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "total": delivered})
}
