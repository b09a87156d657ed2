package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"
)

// Version is stamped at build time in the original; kept as a constant here
// since there is no longer a persisted settings store to read it from.
const Version = "0.1.0"

func main() {
	port := flag.IntP("port", "p", 8080, "UDP port to listen on")
	heartbeat := flag.Duration("heartbeat", 2*time.Second, "interval between idle-user sweeps")
	timeout := flag.Duration("timeout", 10*time.Second, "idle duration after which a user is evicted")
	testUser := flag.String("test-bot", "", "name for a virtual test bot that emits a 440 Hz tone (empty to disable)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("bken server %s\n", Version)
		return
	}

	room := NewRoom(*heartbeat, *timeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	go RunMetrics(ctx, room, 5*time.Second)

	if *testUser != "" {
		go RunTestBot(ctx, room, *testUser)
	}

	srv := NewServer(fmt.Sprintf(":%d", *port), room)
	if err := srv.Run(ctx); err != nil {
		log.Fatal("server exited", "err", err)
	}
}
