package introspect

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

// Server serves a handler over HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	http *http.Server
	log  *logger.Logger

	mu   sync.Mutex
	addr string
}

// NewServer creates a server for h on addr. Gin runs in debug mode only when
// the global log level is debug or lower.
func NewServer(addr string, h http.Handler, log *logger.Logger) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           h2c.NewHandler(h, h2s),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log:  logger.OrNop(log).WithComponent("introspect"),
		addr: addr,
	}
}

// Start binds the address and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return errors.New(errors.KindInvalidConfiguration, "introspect: bind "+s.http.Addr).WithCause(err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("introspection server failed", logger.Fields(logger.FieldError, err.Error()))
		}
	}()
	s.log.Info("introspection server started", logger.Fields("addr", s.Addr()))
	return nil
}

// Stop shuts the server down, waiting at most five seconds for open
// requests.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return errors.New(errors.KindInvalidState, "introspect: shutdown").WithCause(err)
	}
	s.log.Info("introspection server stopped")
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
