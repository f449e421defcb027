package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/edirooss/playout-server/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NetIfSource lists host network interfaces.
type NetIfSource interface {
	List(ctx context.Context) ([]service.NetIf, error)
}

// NetIfHandler serves the interfaces a channel's net_interface can name.
type NetIfHandler struct {
	log *zap.Logger
	svc NetIfSource
}

// NewNetIfHandler constructs a NetIfHandler instance.
func NewNetIfHandler(log *zap.Logger, svc NetIfSource) *NetIfHandler {
	return &NetIfHandler{
		log: log.Named("netif"),
		svc: svc,
	}
}

// GetNetIfList handles GET /system/net-interfaces.
func (h *NetIfHandler) GetNetIfList(c *gin.Context) {
	ifaces, err := h.svc.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.Header("X-Total-Count", strconv.Itoa(len(ifaces)))
	c.JSON(http.StatusOK, ifaces)
}
