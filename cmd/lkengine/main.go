// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command lkengine drives a standalone LiveKit client engine process: it
// reads configuration, connects to a room, and logs every observer
// callback. It has no capture/render pipeline wired in (spec §1 places
// those out of scope), so it is a signaling/peer smoke-test harness rather
// than a usable call client.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/rapidaai/lkengine/internal/config"
	"github.com/rapidaai/lkengine/internal/logging"
	"github.com/rapidaai/lkengine/internal/token"
	"github.com/rapidaai/lkengine/pkg/engine"
	"github.com/rapidaai/lkengine/pkg/signaling"
	"github.com/rapidaai/lkengine/pkg/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	v, err := config.InitConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.GetEngineConfig(v)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	connID := uuid.NewString()
	logger = logger.With("connection_id", connID)

	if grant, err := token.PeekGrant(cfg.LiveKitToken); err == nil {
		logger = logger.With("room", grant.Room, "identity", grant.Identity)
	}

	eng, err := engine.New(engine.Options{
		MaxRetries:        cfg.MaxRetries,
		QueueSize:         cfg.QueueSize,
		PublishIntervalMs: cfg.PublishIntervalMs,
		Benchmark:         cfg.Benchmark,
		PublishAudioTrack: cfg.PublishAudioTrack,
		PublishVideoTrack: cfg.PublishVideoTrack,
		Descriptor: signaling.ClientDescriptor{
			SDK:         "go",
			Version:     "1.0.0",
			OS:          runtime.GOOS,
			OSVersion:   runtime.GOOS,
			DeviceModel: cfg.DeviceModel,
		},
		ICEServers: stunServers(cfg.StunURL),
		Logger:     logger,
		OnStateChanged: func(state engine.ExternalState) {
			logger.Infow("state changed", "state", state.String())
		},
		OnParticipantInfo: func(p *wire.ParticipantInfo, isLocal bool) {
			logger.Infow("participant update", "sid", p.Sid, "identity", p.Identity, "local", isLocal)
		},
		OnRoomInfo: func(room *wire.RoomInfo) {
			logger.Infow("room update", "sid", room.Sid, "name", room.Name)
		},
		OnDataPacket: func(p *wire.DataPacket) bool {
			logger.Debugw("data packet received")
			return true
		},
	})
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}

	go eng.Run()

	if err := eng.Connect(cfg.LiveKitURL, cfg.LiveKitToken); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infow("shutting down")
	return eng.Close()
}

func stunServers(url string) []webrtc.ICEServer {
	if url == "" {
		return nil
	}
	return []webrtc.ICEServer{{URLs: []string{url}}}
}
