package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/veyh/pueue/internal/config"
	"github.com/veyh/pueue/internal/logger"
	"github.com/veyh/pueue/internal/metrics"
	"github.com/veyh/pueue/internal/process"
	"github.com/veyh/pueue/internal/protocol"
	"github.com/veyh/pueue/internal/scheduler"
	"github.com/veyh/pueue/internal/state"
)

// Daemon ties the listener, dispatcher, scheduler, and supervisor
// together around the single shared state.
type Daemon struct {
	cfg        *config.Config
	state      *state.State
	sup        *process.Supervisor
	sched      *scheduler.Scheduler
	dispatcher *Dispatcher
	secret     []byte
}

// New prepares the daemon: directories, secret, restored state, and the
// groups from the settings.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Shared.EnsureDirectories(); err != nil {
		return nil, err
	}
	secret, err := cfg.Shared.ReadSecret()
	if err != nil {
		return nil, err
	}

	st, err := state.Restore(cfg.Shared.PueueDirectory, cfg.Daemon.DefaultParallelTasks)
	if err != nil {
		return nil, err
	}
	for name, parallel := range cfg.Daemon.Groups {
		if _, ok := st.Groups[name]; !ok {
			if err := st.AddGroup(name, parallel); err != nil {
				return nil, fmt.Errorf("invalid configured group %q: %w", name, err)
			}
		}
	}

	sup := process.New(cfg.Shared.LogDir())
	sched := scheduler.New(st, sup, cfg)

	return &Daemon{
		cfg:        cfg,
		state:      st,
		sup:        sup,
		sched:      sched,
		dispatcher: NewDispatcher(st, sched, cfg),
		secret:     secret,
	}, nil
}

// Run blocks until the context is cancelled, serving client sessions and
// driving the scheduler.
func (d *Daemon) Run(ctx context.Context) error {
	listener, err := d.bind()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.sched.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		listener.Close()
		if d.cfg.Shared.UseUnixSocket {
			os.Remove(d.cfg.Shared.SocketPath())
		}
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				logger.Warn().Err(err).Msg("failed to accept connection")
				continue
			}
			go d.handleConnection(conn)
		}
	})

	if d.cfg.Daemon.MetricsPort > 0 {
		g.Go(func() error {
			return d.serveMetrics(ctx)
		})
	}

	logger.Info().Msg("daemon ready")
	return g.Wait()
}

// bind opens the configured endpoint: a unix socket or TCP loopback,
// optionally wrapped in TLS. Binding failures are fatal.
func (d *Daemon) bind() (net.Listener, error) {
	var listener net.Listener
	var err error

	if d.cfg.Shared.UseUnixSocket {
		path := d.cfg.Shared.SocketPath()
		// A leftover socket from an unclean shutdown blocks the bind.
		os.Remove(path)
		listener, err = net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("failed to bind unix socket %s: %w", path, err)
		}
		if err := os.Chmod(path, 0o700); err != nil {
			listener.Close()
			return nil, fmt.Errorf("failed to restrict socket permissions: %w", err)
		}
		logger.Info().Str("socket", path).Msg("listening on unix socket")
	} else {
		addr := net.JoinHostPort(d.cfg.Shared.Host, strconv.Itoa(d.cfg.Shared.Port))
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
		}
		logger.Info().Str("addr", addr).Msg("listening on tcp")
	}

	if d.cfg.Shared.TLSCertPath != "" && d.cfg.Shared.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(d.cfg.Shared.TLSCertPath, d.cfg.Shared.TLSKeyPath)
		if err != nil {
			listener.Close()
			return nil, fmt.Errorf("failed to load TLS material: %w", err)
		}
		listener = tls.NewListener(listener, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	return listener, nil
}

// handleConnection serves one session: authenticate, read one request,
// dispatch, write one response.
func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	log := logger.WithSession(uuid.New().String()[:8])

	if err := protocol.VerifyPeer(conn, d.secret); err != nil {
		// Close silently; a failed handshake gets no reply.
		metrics.SessionsRejected.Inc()
		log.Warn().Err(err).Msg("rejected connection")
		return
	}
	metrics.SessionsAccepted.Inc()

	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		log.Debug().Err(err).Msg("connection closed before request")
		return
	}
	request, err := protocol.Decode(frame)
	if err != nil {
		log.Warn().Err(err).Msg("failed to decode request")
		return
	}

	response := d.dispatcher.Dispatch(request)

	payload, err := protocol.Encode(response)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		return
	}
	if err := protocol.WriteFrame(conn, payload); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func (d *Daemon) serveMetrics(ctx context.Context) error {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    net.JoinHostPort(d.cfg.Shared.Host, strconv.Itoa(d.cfg.Daemon.MetricsPort)),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", server.Addr).Msg("metrics endpoint listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
