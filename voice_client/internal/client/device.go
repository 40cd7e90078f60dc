package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/iselt/voice-relay/common"
	"github.com/iselt/voice-relay/common/audio"
)

// Device is the audio hardware boundary. Capture blocks until the next buffer
// of BufferSize frames is available. Play takes one buffer of mixed audio.
type Device interface {
	Capture(ctx context.Context) (audio.Frames, error)
	Play(frames audio.Frames) error
	Close() error
}

// NewDevice builds the device named in the client config for the negotiated
// session parameters.
func NewDevice(kind string, params common.SessionParams) (Device, error) {
	switch kind {
	case common.DeviceSilence:
		return NewSilenceDevice(params), nil
	case common.DeviceTone:
		return NewToneDevice(params, DefaultToneFrequency), nil
	default:
		return nil, fmt.Errorf("%w: unknown device %q", common.ErrInvalidConfig, kind)
	}
}

// pacer releases one tick per buffer period, catching up after stalls.
type pacer struct {
	interval time.Duration
	next     time.Time
}

func (p *pacer) wait(ctx context.Context) error {
	now := time.Now()
	if p.next.IsZero() || p.next.Before(now.Add(-p.interval)) {
		p.next = now
	}
	p.next = p.next.Add(p.interval)

	timer := time.NewTimer(time.Until(p.next))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SilenceDevice captures silence in real time and discards playback.
type SilenceDevice struct {
	params common.SessionParams
	pacer  pacer
}

func NewSilenceDevice(params common.SessionParams) *SilenceDevice {
	return &SilenceDevice{params: params, pacer: pacer{interval: params.BufferDuration()}}
}

func (d *SilenceDevice) Capture(ctx context.Context) (audio.Frames, error) {
	if err := d.pacer.wait(ctx); err != nil {
		return audio.Frames{}, err
	}
	frames := audio.NewFrames(d.params.BufferSize, d.params.Channels)
	if mid := d.params.WordType.Midpoint(); mid != 0 {
		for i := range frames.Samples {
			frames.Samples[i] = mid
		}
	}
	return frames, nil
}

func (d *SilenceDevice) Play(audio.Frames) error { return nil }

func (d *SilenceDevice) Close() error { return nil }

// DefaultToneFrequency is A4.
const DefaultToneFrequency = 440.0

// toneLevel is the tone amplitude relative to full scale.
const toneLevel = 0.25

// ToneDevice captures a continuous sine wave in real time and discards
// playback.
type ToneDevice struct {
	params    common.SessionParams
	frequency float64
	pacer     pacer

	phase float64
}

func NewToneDevice(params common.SessionParams, frequency float64) *ToneDevice {
	return &ToneDevice{
		params:    params,
		frequency: frequency,
		pacer:     pacer{interval: params.BufferDuration()},
	}
}

func (d *ToneDevice) Capture(ctx context.Context) (audio.Frames, error) {
	if err := d.pacer.wait(ctx); err != nil {
		return audio.Frames{}, err
	}
	return d.next(), nil
}

// next renders the following buffer of the wave, continuing its phase.
func (d *ToneDevice) next() audio.Frames {
	frames := audio.NewFrames(d.params.BufferSize, d.params.Channels)
	word := d.params.WordType
	amplitude := toneLevel * word.FullScale()
	step := 2 * math.Pi * d.frequency / float64(d.params.SampleRate)

	for i := 0; i < frames.Len(); i++ {
		v := word.Midpoint() + amplitude*math.Sin(d.phase)
		for c := range frames.Frame(i) {
			frames.Frame(i)[c] = v
		}
		d.phase = math.Mod(d.phase+step, 2*math.Pi)
	}
	return frames
}

func (d *ToneDevice) Play(audio.Frames) error { return nil }

func (d *ToneDevice) Close() error { return nil }
