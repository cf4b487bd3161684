package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/log"

	"github.com/Tvcz/dns-server/querytable"
	"github.com/Tvcz/dns-server/rrcache"
)

// Stats is a point-in-time snapshot served at GET /debug/stats.
type Stats struct {
	CacheEntries  int `json:"cache_entries"`
	ActiveQueries int `json:"active_queries"`
	RetiredIDs    int `json:"retired_ids"`
	CacheSizeHint int `json:"cache_size_hint"`
}

// RunDebugAPI starts the debug/metrics HTTP server at addr. Empty addr
// disables it, so the server can ship with this off by default.
func RunDebugAPI(addr string, reg *Recorder, cache *rrcache.Cache, table *querytable.Table, cacheSizeHint int) error {
	if addr == "" {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/debug/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, Stats{
			CacheEntries:  cache.Len(),
			ActiveQueries: table.Len(),
			RetiredIDs:    table.RetiredLen(),
			CacheSizeHint: cacheSizeHint,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	go func() {
		if err := r.Run(addr); err != nil {
			log.Error("debug API server stopped", "error", err.Error())
		}
	}()

	log.Info("debug API listening", "addr", addr)

	return nil
}
