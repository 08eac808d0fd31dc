// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package engine

import (
	"context"
	"strings"
	"sync"
	"time"
)

// StreamType distinguishes the two encoded-frame kinds the capture
// contract produces (spec §6 "Capture contract").
type StreamType int

const (
	StreamAudio StreamType = iota
	StreamVideo
)

// Frame is one encoded capture frame (spec §6: "{ stream_type, pts, data,
// size }"); size is simply len(Data) in Go.
type Frame struct {
	StreamType StreamType
	PTS        int64
	Data       []byte
}

// Capture is the opaque capture handle the engine pulls encoded frames
// from; spec §1 places the actual capture pipeline out of scope, so this
// is specified only at its interface (spec §6).
type Capture interface {
	Start() error
	Stop() error
	// AcquireFrame returns the next available frame for streamType. When
	// blocking is false and none is ready, ok is false. The caller must
	// call ReleaseFrame once done with the returned Frame.
	AcquireFrame(streamType StreamType, blocking bool) (frame *Frame, ok bool)
	ReleaseFrame(frame *Frame)
}

// RenderCodec is the render-side codec enum translated from the peer's
// negotiated RTP codec (spec §6 "Render contract").
type RenderCodec int

const (
	RenderOpus RenderCodec = iota
	RenderG711A
	RenderG711U
)

// AudioStreamInfo describes a remote audio track's format for the render
// sink, after the codec/sample-rate translation spec §6 requires (G711
// forced to 8kHz mono; everything downstream is 16-bit linear PCM).
type AudioStreamInfo struct {
	Codec      RenderCodec
	SampleRate int
	Channels   int
}

// AudioData is one inbound audio chunk for the render sink (spec §6:
// "add_audio_data({pts, data, size})"). Data is the raw RTP packet, header
// included, as read from the remote track; no depacketizing or decoding is
// done here. PTS is the arrival time in Unix milliseconds.
type AudioData struct {
	PTS  int64
	Data []byte
}

// Render is the opaque render handle remote audio is pushed into; spec §1
// places audio rendering sinks out of scope, so this is specified only at
// its interface (spec §6).
type Render interface {
	AddAudioStream(info AudioStreamInfo)
	AddAudioData(frame AudioData)
}

// translateAudioInfo maps a negotiated RTP mime type to the render
// contract's codec/sample-rate/channel triple (spec §6): G711 variants are
// forced to 8kHz mono; Opus, and any other mime type, maps to Opus at a
// fixed 48kHz stereo.
func translateAudioInfo(mimeType string) AudioStreamInfo {
	switch strings.ToLower(mimeType) {
	case "audio/pcma":
		return AudioStreamInfo{Codec: RenderG711A, SampleRate: 8000, Channels: 1}
	case "audio/pcmu":
		return AudioStreamInfo{Codec: RenderG711U, SampleRate: 8000, Channels: 1}
	default:
		return AudioStreamInfo{Codec: RenderOpus, SampleRate: 48000, Channels: 2}
	}
}

// mediaLoop is the spec §4.7 "Media streaming loop": a dedicated goroutine
// spawned by publishTracks that drains all available audio frames per
// tick but at most one video frame, forwarding each to the publisher peer,
// grounded in base_streamer.go's non-blocking-send-with-drop cadence
// idiom generalized to frame-at-a-time polling.
type mediaLoop struct {
	e *Engine

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newMediaLoop(e *Engine) *mediaLoop {
	return &mediaLoop{e: e}
}

func (m *mediaLoop) start(parent context.Context, intervalMs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.e.opts.Capture == nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.running = true

	if err := m.e.opts.Capture.Start(); err != nil {
		m.e.log().Errorw("media streaming: capture start failed", "error", err)
		m.running = false
		cancel()
		return
	}

	m.wg.Add(1)
	go m.run(ctx, time.Duration(intervalMs)*time.Millisecond)
}

func (m *mediaLoop) stop() {
	m.mu.Lock()
	cancel := m.cancel
	running := m.running
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if !running {
		return
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	if m.e.opts.Capture != nil {
		if err := m.e.opts.Capture.Stop(); err != nil {
			m.e.log().Warnw("media streaming: capture stop failed", "error", err)
		}
	}
}

func (m *mediaLoop) run(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	capture := m.e.opts.Capture
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(capture)
		}
	}
}

// tick drains every ready audio frame but forwards at most one video frame
// (spec §4.7), never blocking waiting for either.
func (m *mediaLoop) tick(capture Capture) {
	for {
		frame, ok := capture.AcquireFrame(StreamAudio, false)
		if !ok {
			break
		}
		if m.e.pubPeer != nil {
			if err := m.e.pubPeer.SendAudio(frame.Data); err != nil {
				m.e.log().Warnw("media streaming: send audio failed", "error", err)
			}
		}
		capture.ReleaseFrame(frame)
	}

	if frame, ok := capture.AcquireFrame(StreamVideo, false); ok {
		if m.e.pubPeer != nil {
			if err := m.e.pubPeer.SendVideo(frame.Data); err != nil {
				m.e.log().Warnw("media streaming: send video failed", "error", err)
			}
		}
		capture.ReleaseFrame(frame)
	}
}
