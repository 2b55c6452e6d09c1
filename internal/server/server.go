// Package server wires the presentation registry, UDP socket pool,
// admission controller and RTSP session state machine into a process that
// listens on the configured TCP ports and spawns one rtspsession.Session
// per accepted connection. This package is the composition root the rest
// of the module is built around.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coldcutmedia/rtspreflect/internal/admission"
	"github.com/coldcutmedia/rtspreflect/internal/registry"
	"github.com/coldcutmedia/rtspreflect/internal/rtspsession"
	"github.com/coldcutmedia/rtspreflect/internal/serverconfig"
	"github.com/coldcutmedia/rtspreflect/internal/udppool"
	"github.com/coldcutmedia/rtspreflect/pkg/auth"
)

// Server owns the shared state every RTSP connection needs and the TCP
// listeners accepting them.
type Server struct {
	cfg       serverconfig.Config
	registry  *registry.Registry
	udpPool   *udppool.Pool
	admission *admission.Controller
	authValid *auth.Validator
	log       zerolog.Logger

	mutex     sync.Mutex
	listeners []net.Listener
}

// New builds a Server from cfg. authValid may be nil to run with no
// authentication.
func New(cfg serverconfig.Config, authValid *auth.Validator, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry.New(cfg.ReflectorBucketSizePackets, cfg.AllowDuplicateBroadcasts),
		udpPool:   udppool.New(cfg.ServerAddress, cfg.UDPPortMin, cfg.UDPPortMax),
		admission: admission.New(cfg),
		authValid: authValid,
		log:       log,
	}
}

// ListenAndServe opens a TCP listener on every port in
// cfg.RTSPPortList and accepts connections until ctx is cancelled. It
// returns once every listener has stopped.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(s.cfg.RTSPPortList))

	for _, port := range s.cfg.RTSPPortList {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			s.Close()
			return fmt.Errorf("listen on port %d: %w", port, err)
		}

		s.mutex.Lock()
		s.listeners = append(s.listeners, ln)
		s.mutex.Unlock()

		wg.Add(1)
		go func(ln net.Listener, port int) {
			defer wg.Done()
			if err := s.acceptLoop(ctx, ln); err != nil {
				errCh <- err
			}
		}(ln, port)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		if err := s.admission.AcquireConnection(); err != nil {
			s.log.Debug().Err(err).Str("remote", c.RemoteAddr().String()).Msg("connection refused")
			_ = c.Close()
			continue
		}

		go s.serve(ctx, c)
	}
}

func (s *Server) serve(ctx context.Context, c net.Conn) {
	defer s.admission.ReleaseConnection()
	defer c.Close()

	remoteIP := remoteIPOf(c)
	log := s.log.With().Str("remote", c.RemoteAddr().String()).Logger()

	sess := rtspsession.New(c, remoteIP, s.cfg, s.registry, s.udpPool, s.admission, log, s.authValid)
	sess.Run(ctx)
}

// Close stops every active listener. Already-accepted connections are left
// to drain on their own session's context.
func (s *Server) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	s.listeners = nil
	s.udpPool.Close()
}

func remoteIPOf(c net.Conn) net.IP {
	if tcpAddr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	return nil
}
