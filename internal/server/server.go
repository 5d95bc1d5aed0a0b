package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/internal/protocol"
	"github.com/mohammad-safakhou/groundchat/internal/session"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the session channel over websocket plus the legacy HTTP API.
type Server struct {
	cfg      config.ServerConfig
	engine   *session.Engine
	metrics  http.Handler
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New builds a server. metrics serves GET /metrics and may be nil.
func New(cfg config.ServerConfig, engine *session.Engine, metrics http.Handler) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	return e
}

// API is the handler of the HTTP listener: health, metrics, the abandoned generate
// endpoint and the session channel under /ws.
func (s *Server) API() *echo.Echo {
	e := s.newEcho()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
	e.POST("/api/generate", func(c echo.Context) error {
		return c.String(http.StatusOK, protocol.LegacyEndpointText)
	})
	e.GET("/ws", s.handleWS)
	return e
}

// WS is the handler of the dedicated websocket listener.
func (s *Server) WS() *echo.Echo {
	e := s.newEcho()
	e.GET("/", s.handleWS)
	return e
}

// Run serves both listeners until ctx is done or one of them fails, then shuts
// everything down. An empty address disables its listener.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	var running []*echo.Echo
	for _, l := range []struct {
		addr string
		e    *echo.Echo
	}{
		{s.cfg.Address, s.API()},
		{s.cfg.WSAddress, s.WS()},
	} {
		if l.addr == "" {
			continue
		}
		addr, e := l.addr, l.e
		running = append(running, e)
		g.Go(func() error {
			s.logger.Printf("listening on %s", addr)
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.closeConns()
		var err error
		for _, e := range running {
			if serr := e.Shutdown(shutdownCtx); serr != nil {
				err = errors.Join(err, serr)
			}
		}
		return err
	})
	return g.Wait()
}

func (s *Server) track(conn *websocket.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// closeConns closes hijacked websocket connections, which http.Server.Shutdown
// does not track.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
