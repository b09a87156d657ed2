package main

import (
	"context"
	"errors"
	"net"
	"time"

	"bken/server/internal/wire"

	"github.com/charmbracelet/log"
)

// Server owns the UDP socket and runs the single-threaded receive loop
// described in spec §4.10/§5: one goroutine reads datagrams with a short
// deadline so it can also check for idle users on a regular cadence,
// exactly the select-over-(socket, heartbeat-timer) shape of the original.
type Server struct {
	addr string
	room *Room
}

func NewServer(addr string, room *Room) *Server {
	return &Server{addr: addr, room: room}
}

// Run binds the UDP socket and services it until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.room.bind(conn)
	log.Info("listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, wire.PacketMaxSize)
	lastHeartbeat := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.room.heartbeatInterval))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.room.evictIdle()
				lastHeartbeat = time.Now()
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Error("receive failed", "err", err)
			continue
		}

		msg, err := wire.DecodeClient(buf[:n])
		if err != nil {
			log.Warn("malformed datagram, dropping", "addr", addr, "err", err)
			continue
		}
		s.room.handle(addr, msg)

		if time.Since(lastHeartbeat) >= s.room.heartbeatInterval {
			s.room.evictIdle()
			lastHeartbeat = time.Now()
		}
	}
}
