package main

import (
	"context"
	"math"
	"net"
	"time"

	"bken/server/internal/wire"

	"github.com/charmbracelet/log"
	"gopkg.in/hraban/opus.v2"
)

const (
	testBotSampleRate = 48000
	testBotFrameSize  = 960 // 20ms @ 48kHz, matches the client's encoder frame
	testBotToneHz     = 440.0
)

// RunTestBot joins the room as a virtual peer and emits a continuous 440 Hz
// tone, encoded live with a real Opus encoder, on a 20ms ticker. It exists to
// make spec §8 Scenario 2 runnable without two physical audio devices: point
// a real client at a server started with the test bot enabled and it will
// hear a steady tone.
func RunTestBot(ctx context.Context, room *Room, username string) {
	enc, err := opus.NewEncoder(testBotSampleRate, 1, opus.AppVoIP)
	if err != nil {
		log.Error("testbot: create encoder", "err", err)
		return
	}

	id := room.idCounter.Add(1)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0} // never dialed; bot never receives
	user := &User{ID: id, Username: username, Addr: addr}
	user.touch()

	log.Info("testbot joined", "id", id, "username", username)
	room.broadcast(wire.ServerMessage{Kind: wire.ServerConnected, User: user.info()}, nil)

	pcm := make([]float32, testBotFrameSize)
	opusBuf := make([]byte, 4000)
	phase := 0.0
	phaseStep := 2 * math.Pi * testBotToneHz / testBotSampleRate

	var seq wire.SeqNum
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			room.broadcast(wire.ServerMessage{Kind: wire.ServerDisconnected, User: user.info()}, nil)
			return
		case <-ticker.C:
			for i := range pcm {
				pcm[i] = float32(0.25 * math.Sin(phase))
				phase += phaseStep
				if phase > 2*math.Pi {
					phase -= 2 * math.Pi
				}
			}
			n, err := enc.EncodeFloat32(pcm, opusBuf)
			if err != nil {
				log.Warn("testbot: encode", "err", err)
				continue
			}
			room.broadcast(wire.ServerMessage{
				Kind:    wire.ServerVoice,
				Seq:     seq,
				PeerID:  id,
				Samples: append([]byte(nil), opusBuf[:n]...),
			}, nil)
			seq++
		}
	}
}
