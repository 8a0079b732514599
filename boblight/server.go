// Package boblight accepts remote per-LED color streams over the boblight
// wire protocol (newline-delimited ASCII over TCP). Each connection owns one
// priority slot in the muxer and is cleared again on disconnect.
package boblight

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"go-ambient-light-control/metrics"
	"go-ambient-light-control/muxer"
)

type Server struct {
	mux             *muxer.Muxer
	log             zerolog.Logger
	met             *metrics.Metrics
	listen          string
	defaultPriority int

	mu sync.Mutex
	ln net.Listener
}

func New(mux *muxer.Muxer, listen string, defaultPriority int, logger zerolog.Logger, met *metrics.Metrics) *Server {
	return &Server{
		mux:             mux,
		log:             logger.With().Str("component", "boblight").Logger(),
		met:             met,
		listen:          listen,
		defaultPriority: defaultPriority,
	}
}

// Addr returns the bound address once ListenAndServe is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ListenAndServe accepts connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return fmt.Errorf("boblight listen: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("boblight server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("boblight accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// session is the per-connection state: the owned priority slot and the color
// buffer accumulated between syncs.
type session struct {
	priority int
	colors   []muxer.RGB
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.met.ConnOpened()
	defer s.met.ConnClosed()

	log := s.log.With().Str("remote", conn.RemoteAddr().String()).Logger()
	origin := "Boblight@" + conn.RemoteAddr().String()

	sess := &session{
		priority: s.defaultPriority,
		colors:   make([]muxer.RGB, s.mux.LEDCount()),
	}
	if err := s.mux.Register(sess.priority, muxer.ComponentBoblight, origin, "", 0); err != nil {
		log.Error().Err(err).Msg("register failed")
		return
	}
	defer func() {
		s.mux.Clear(sess.priority)
		log.Info().Msg("client disconnected")
	}()
	log.Info().Int("priority", sess.priority).Msg("client connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		reply, err := s.command(sess, origin, scanner.Text())
		if err != nil {
			log.Debug().Err(err).Str("line", scanner.Text()).Msg("bad command ignored")
			continue
		}
		if reply != "" {
			if _, err := fmt.Fprint(conn, reply); err != nil {
				return
			}
		}
	}
}

// command parses one protocol line and returns the reply to send, if any.
func (s *Server) command(sess *session, origin, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	switch fields[0] {
	case "hello":
		return "hello\n", nil

	case "ping":
		return "ping 1\n", nil

	case "get":
		if len(fields) < 2 {
			return "", fmt.Errorf("get needs an argument")
		}
		switch fields[1] {
		case "version":
			return "version 5\n", nil
		case "lights":
			var b strings.Builder
			n := len(sess.colors)
			fmt.Fprintf(&b, "lights %d\n", n)
			for i := 0; i < n; i++ {
				fmt.Fprintf(&b, "light %03d scan 0 100 0 100\n", i)
			}
			return b.String(), nil
		default:
			return "", fmt.Errorf("unknown get target %q", fields[1])
		}

	case "set":
		if len(fields) < 3 {
			return "", fmt.Errorf("set needs arguments")
		}
		switch fields[1] {
		case "priority":
			p, err := strconv.Atoi(fields[2])
			if err != nil || p < 0 || p >= muxer.PriorityLowest {
				return "", fmt.Errorf("bad priority %q", fields[2])
			}
			if p == sess.priority {
				return "", nil
			}
			if err := s.mux.Register(p, muxer.ComponentBoblight, origin, "", 0); err != nil {
				return "", err
			}
			s.mux.Clear(sess.priority)
			sess.priority = p
			return "", nil
		case "light":
			return "", s.setLight(sess, fields[2:])
		default:
			return "", fmt.Errorf("unknown set target %q", fields[1])
		}

	case "sync":
		colors := make([]muxer.RGB, len(sess.colors))
		copy(colors, sess.colors)
		err := s.mux.SetColor(sess.priority, colors, muxer.TimeoutPersistent)
		if errors.Is(err, muxer.ErrUnregisteredPriority) {
			// A force clear-all dropped the slot; take it back and retry.
			if err := s.mux.Register(sess.priority, muxer.ComponentBoblight, origin, "", 0); err != nil {
				return "", err
			}
			err = s.mux.SetColor(sess.priority, colors, muxer.TimeoutPersistent)
		}
		return "", err

	default:
		return "", fmt.Errorf("unknown command %q", fields[0])
	}
}

// setLight handles "set light <index> rgb <r> <g> <b>" with 0.0-1.0 channels.
func (s *Server) setLight(sess *session, args []string) error {
	if len(args) != 5 || args[1] != "rgb" {
		return fmt.Errorf("malformed set light")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 || index >= len(sess.colors) {
		return fmt.Errorf("bad light index %q", args[0])
	}
	var ch [3]uint8
	for i, raw := range args[2:] {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("bad channel %q", raw)
		}
		ch[i] = uint8(math.Max(0, math.Min(255, v*255.0)))
	}
	sess.colors[index] = muxer.RGB{R: ch[0], G: ch[1], B: ch[2]}
	return nil
}
