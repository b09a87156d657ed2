package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"client/internal/audioservice"
	"client/internal/config"
	"client/internal/peerchan"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"
)

const Version = "0.1.0"

func main() {
	port := flag.IntP("port", "p", 8080, "server port, used when the address has none")
	latencyMs := flag.Float32("latency", 150, "playback jitter budget in milliseconds")
	username := flag.String("username", "", "display name announced to the relay (defaults to saved preference or $USER)")
	inputDevice := flag.Int("input-device", -1, "input device index (-1 for system default)")
	outputDevice := flag.Int("output-device", -1, "output device index (-1 for system default)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("bken client %s\n", Version)
		return
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: bken-client [flags] <host[:port]>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := config.Load()

	name := *username
	if name == "" {
		name = cfg.Username
	}
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "anonymous"
	}

	addr, err := normalizeServerAddrDefaultPort(flag.Arg(0), fmt.Sprintf("%d", *port))
	if err != nil {
		log.Fatal("invalid server address", "error", err)
	}

	latency := peerchan.NewLatency(*latencyMs, audioservice.SampleRate, audioservice.Channels)

	session, err := Connect(addr, name, latency)
	if err != nil {
		log.Fatal("could not connect", "error", err)
	}

	inDev := *inputDevice
	if inDev == -1 {
		inDev = cfg.InputDeviceID
	}
	outDev := *outputDevice
	if outDev == -1 {
		outDev = cfg.OutputDeviceID
	}
	if err := session.StartAudio(inDev, outDev); err != nil {
		log.Fatal("could not start audio", "error", err)
	}

	cfg.Username = name
	cfg.LastServerAddr = addr
	if err := config.Save(cfg); err != nil {
		log.Warn("could not save preferences", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	go func() {
		for ev := range session.Events() {
			if ev.Connected {
				log.Info("peer connected", "id", ev.User.ID, "username", ev.User.Username)
			} else {
				log.Info("peer disconnected", "id", ev.User.ID, "username", ev.User.Username)
			}
		}
	}()

	log.Info("connected, streaming audio", "server", addr, "username", name)
	if err := session.Run(ctx); err != nil {
		log.Error("session ended with error", "error", err)
	}
	session.Disconnect()
}
