// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCapture is a Capture stub that serves a fixed queue of frames per
// stream type, recording Start/Stop/Acquire/Release calls for assertions.
type fakeCapture struct {
	mu sync.Mutex

	started bool
	stopped bool

	audio []*Frame
	video []*Frame

	released int
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeCapture) AcquireFrame(streamType StreamType, _ bool) (*Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch streamType {
	case StreamAudio:
		if len(f.audio) == 0 {
			return nil, false
		}
		fr := f.audio[0]
		f.audio = f.audio[1:]
		return fr, true
	case StreamVideo:
		if len(f.video) == 0 {
			return nil, false
		}
		fr := f.video[0]
		f.video = f.video[1:]
		return fr, true
	}
	return nil, false
}

func (f *fakeCapture) ReleaseFrame(*Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func TestTranslateAudioInfo(t *testing.T) {
	info := translateAudioInfo("audio/PCMA")
	assert.Equal(t, RenderG711A, info.Codec)
	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)

	info = translateAudioInfo("audio/pcmu")
	assert.Equal(t, RenderG711U, info.Codec)
	assert.Equal(t, 8000, info.SampleRate)

	info = translateAudioInfo("audio/opus")
	assert.Equal(t, RenderOpus, info.Codec)
	assert.Equal(t, 48000, info.SampleRate)
	assert.Equal(t, 2, info.Channels)
}

func TestMediaLoop_TickDrainsAllAudioAtMostOneVideo(t *testing.T) {
	e := newTestEngine(t, Options{})
	capture := &fakeCapture{
		audio: []*Frame{{PTS: 1}, {PTS: 2}, {PTS: 3}},
		video: []*Frame{{PTS: 10}, {PTS: 11}},
	}

	m := newMediaLoop(e)
	m.tick(capture)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	assert.Empty(t, capture.audio, "all ready audio frames should be drained in one tick")
	assert.Len(t, capture.video, 1, "at most one video frame is forwarded per tick")
	assert.Equal(t, 4, capture.released) // 3 audio + 1 video
}

func TestMediaLoop_TickToleratesNilPublisherPeer(t *testing.T) {
	e := newTestEngine(t, Options{})
	require.Nil(t, e.pubPeer)

	capture := &fakeCapture{audio: []*Frame{{PTS: 1}}, video: []*Frame{{PTS: 2}}}
	m := newMediaLoop(e)

	assert.NotPanics(t, func() { m.tick(capture) })
}

func TestMediaLoop_StartStopLifecycle(t *testing.T) {
	e := newTestEngine(t, Options{})
	capture := &fakeCapture{}
	e.opts.Capture = capture

	m := newMediaLoop(e)
	m.start(e.ctx, 5)

	require.Eventually(t, func() bool {
		capture.mu.Lock()
		defer capture.mu.Unlock()
		return capture.started
	}, time.Second, 10*time.Millisecond)

	m.stop()

	capture.mu.Lock()
	defer capture.mu.Unlock()
	assert.True(t, capture.stopped)
}

func TestMediaLoop_StartNoopWithoutCapture(t *testing.T) {
	e := newTestEngine(t, Options{})
	m := newMediaLoop(e)

	m.start(e.ctx, 20)
	assert.False(t, m.running)
}
