package app

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"
)

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.db.Ping(ctx); err != nil {
		a.log.Warnw("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "database": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "database": "up"})
}

func (a *App) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	containerID := strings.TrimSpace(os.Getenv("HOSTNAME"))
	if containerID == "" {
		containerID = "unknown"
	}
	resp := map[string]any{
		"containerId":    containerID,
		"memoryThrottle": false,
	}
	if a.monitor != nil {
		s := a.monitor.Status()
		resp["hostUsedBytes"] = s.HostUsedBytes
		resp["hostTotalBytes"] = s.HostTotalBytes
		resp["hostRatio"] = s.HostRatio
		resp["cgroupUsedBytes"] = s.CgroupUsedBytes
		resp["cgroupLimitBytes"] = s.CgroupLimitBytes
		resp["cgroupRatio"] = s.CgroupRatio
		resp["memoryThrottle"] = a.monitor.Throttled()
	}
	writeJSON(w, http.StatusOK, resp)
}
