// Package portmap exposes each bench device slot on a stable localhost port
// for development. HTTP traffic maps to 8100+slot, admin traffic to
// 8200+slot with the /admin path prefix stripped, matching the production
// ingress behaviour.
package portmap

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	httpPortBase  = 8100
	adminPortBase = 8200
	maxHeaderSize = 64 << 10
)

// Mapping relays one local port to one device.
type Mapping struct {
	LocalPort   int
	TargetHost  string
	TargetPort  int
	StripPrefix string
}

func (m Mapping) target() string {
	return net.JoinHostPort(m.TargetHost, fmt.Sprintf("%d", m.TargetPort))
}

// BuildMappings computes the HTTP and admin mappings for the given number of
// bench slots. hostPattern must contain one %d verb, e.g. "esp-%03d.local".
func BuildMappings(slots int, hostPattern string, targetPort int) []Mapping {
	mappings := make([]Mapping, 0, slots*2)
	for i := 0; i < slots; i++ {
		hostname := fmt.Sprintf(hostPattern, i)
		mappings = append(mappings, Mapping{
			LocalPort:  httpPortBase + i,
			TargetHost: hostname,
			TargetPort: targetPort,
		})
		mappings = append(mappings, Mapping{
			LocalPort:   adminPortBase + i,
			TargetHost:  hostname,
			TargetPort:  targetPort,
			StripPrefix: "/admin",
		})
	}
	return mappings
}

// Server relays connections for a set of mappings until its context ends.
type Server struct {
	bindHost string
	mappings []Mapping
	logger   zerolog.Logger
	dialer   net.Dialer
}

func NewServer(bindHost string, mappings []Mapping, logger zerolog.Logger) (*Server, error) {
	if bindHost == "" {
		bindHost = "127.0.0.1"
	}
	if len(mappings) == 0 {
		return nil, errors.New("at least one mapping is required")
	}
	return &Server{
		bindHost: bindHost,
		mappings: mappings,
		logger:   logger,
		dialer:   net.Dialer{Timeout: 5 * time.Second},
	}, nil
}

// Run listens on every mapping and serves until ctx is cancelled. The first
// listener failure tears the whole relay down.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, mapping := range s.mappings {
		ln, err := new(net.ListenConfig).Listen(ctx, "tcp", net.JoinHostPort(s.bindHost, fmt.Sprintf("%d", mapping.LocalPort)))
		if err != nil {
			return fmt.Errorf("listen on %d: %w", mapping.LocalPort, err)
		}
		s.logger.Info().
			Str("local", ln.Addr().String()).
			Str("target", mapping.target()).
			Str("strip_prefix", mapping.StripPrefix).
			Msg("forwarding")
		g.Go(func() error {
			return s.serve(ctx, ln, mapping)
		})
	}
	return g.Wait()
}

func (s *Server) serve(ctx context.Context, ln net.Listener, mapping Mapping) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept on %d: %w", mapping.LocalPort, err)
		}
		go s.relay(ctx, conn, mapping)
	}
}

// relay connects to the target, forwards the rewritten request head, then
// pumps bytes both ways until either side closes.
func (s *Server) relay(ctx context.Context, client net.Conn, mapping Mapping) {
	defer client.Close()

	target, err := s.dialer.DialContext(ctx, "tcp", mapping.target())
	if err != nil {
		s.logger.Warn().Err(err).Str("target", mapping.target()).Msg("dial target")
		return
	}
	defer target.Close()

	clientReader := bufio.NewReader(client)
	header, err := readRequestHead(clientReader)
	if err != nil {
		s.logger.Debug().Err(err).Int("port", mapping.LocalPort).Msg("read request head")
		return
	}
	if mapping.StripPrefix != "" {
		header = rewriteRequestPath(header, mapping.StripPrefix)
	}
	if _, err := target.Write(header); err != nil {
		return
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := io.Copy(target, clientReader)
		closeWrite(target)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(client, target)
		closeWrite(client)
		return err
	})
	_ = g.Wait()
}

// readRequestHead consumes up to and including the blank line ending the
// request headers. Bytes after it stay buffered for the relay loop.
func readRequestHead(br *bufio.Reader) ([]byte, error) {
	var head bytes.Buffer
	for {
		line, err := br.ReadBytes('\n')
		head.Write(line)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(line, []byte("\r\n")) {
			return head.Bytes(), nil
		}
		if head.Len() > maxHeaderSize {
			return nil, errors.New("request head too large")
		}
	}
}

// rewriteRequestPath strips prefix from the request-line path. A path equal
// to the prefix becomes "/". Malformed request lines pass through untouched.
func rewriteRequestPath(header []byte, prefix string) []byte {
	requestLine, remainder, found := bytes.Cut(header, []byte("\r\n"))
	if !found {
		return header
	}
	parts := bytes.Split(requestLine, []byte(" "))
	if len(parts) != 3 {
		return header
	}
	if rest, ok := bytes.CutPrefix(parts[1], []byte(prefix)); ok {
		if len(rest) == 0 {
			rest = []byte("/")
		}
		parts[1] = rest
		requestLine = bytes.Join(parts, []byte(" "))
	}

	rewritten := make([]byte, 0, len(requestLine)+2+len(remainder))
	rewritten = append(rewritten, requestLine...)
	rewritten = append(rewritten, '\r', '\n')
	return append(rewritten, remainder...)
}

func closeWrite(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
}
