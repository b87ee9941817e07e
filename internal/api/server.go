package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MysteriousWolf/southpool-hacs/config"
	"github.com/MysteriousWolf/southpool-hacs/logger"
	"github.com/MysteriousWolf/southpool-hacs/models"
)

// ViewProvider exposes the coordinator state the API serves. Implemented by
// *coordinator.Coordinator.
type ViewProvider interface {
	Region() string
	CurrentView() (models.DerivedView, bool)
	LastUpdateSuccess() bool
}

// Server hosts the Gin-powered consumer API: JSON views per region plus a
// websocket stream of view updates.
type Server struct {
	cfg        config.APIConfig
	log        *logger.Log
	providers  map[string]ViewProvider
	hub        *Hub
	httpServer *http.Server
}

// NewServer constructs an API server when the API feature is enabled. When
// disabled the returned server is nil.
func NewServer(cfg config.APIConfig, providers []ViewProvider, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	byRegion := make(map[string]ViewProvider, len(providers))
	for _, p := range providers {
		byRegion[p.Region()] = p
	}

	return &Server{
		cfg:       cfg,
		log:       log,
		providers: byRegion,
		hub:       NewHub(log),
	}
}

// BroadcastView pushes a derived view to all websocket clients. Wire it to
// the coordinators' view update listeners.
func (s *Server) BroadcastView(view models.DerivedView) {
	if s == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		s.log.WithComponent("api").WithError(err).Error("failed to encode view for broadcast")
		return
	}
	s.hub.Broadcast(payload)
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("api").WithFields(logger.Fields{"address": s.cfg.Address}).Info("api server started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

// Address reports the network address the API server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/api/regions", s.handleRegions)
	router.GET("/api/regions/:region/view", s.handleRegionView)
	router.GET("/ws", s.handleWebsocket)

	return router, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	regions := gin.H{}
	healthy := true
	for region, provider := range s.providers {
		ok := provider.LastUpdateSuccess()
		if !ok {
			healthy = false
		}
		regions[region] = gin.H{"last_update_success": ok}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":  state,
		"regions": regions,
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleRegions(c *gin.Context) {
	regions := make([]string, 0, len(s.providers))
	for region := range s.providers {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	c.JSON(http.StatusOK, gin.H{"regions": regions})
}

func (s *Server) handleRegionView(c *gin.Context) {
	region := strings.ToUpper(c.Param("region"))
	provider, ok := s.providers[region]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown region"})
		return
	}

	view, ready := provider.CurrentView()
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "view not computed yet"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleWebsocket(c *gin.Context) {
	// Send the freshest available view right after connect. Prefer any
	// region named in the query, otherwise the first ready provider.
	var initial []byte
	if region := strings.ToUpper(c.Query("region")); region != "" {
		if provider, ok := s.providers[region]; ok {
			if view, ready := provider.CurrentView(); ready {
				initial, _ = json.Marshal(view)
			}
		}
	}
	s.hub.HandleUpgrade(c.Writer, c.Request, initial)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
