// Package sdl adapts SDL2 audio devices to the capture and playback
// interfaces used by the session engine.
//
// Both directions use SDL's queue-mode API (no audio callbacks): capture
// polls the device queue with DequeueAudio, playback appends to it with
// QueueAudio. Queue mode keeps all audio handling in Go at the cost of one
// polling goroutine per open device.
package sdl

import (
	"sync"

	"github.com/veandco/go-sdl2/sdl"
)

var (
	initOnce sync.Once
	initErr  error
)

// ensureInit initializes the SDL audio subsystem exactly once.
func ensureInit() error {
	initOnce.Do(func() {
		if sdl.WasInit(sdl.INIT_AUDIO) != 0 {
			return
		}
		initErr = sdl.Init(sdl.INIT_AUDIO)
	})
	return initErr
}

// CaptureDevices returns the names of the available audio input devices.
func CaptureDevices() ([]string, error) {
	if err := ensureInit(); err != nil {
		return nil, err
	}
	return deviceNames(true), nil
}

// PlaybackDevices returns the names of the available audio output devices.
func PlaybackDevices() ([]string, error) {
	if err := ensureInit(); err != nil {
		return nil, err
	}
	return deviceNames(false), nil
}

func deviceNames(capture bool) []string {
	count := sdl.GetNumAudioDevices(capture)
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if name := sdl.GetAudioDeviceName(i, capture); name != "" {
			names = append(names, name)
		}
	}
	return names
}
