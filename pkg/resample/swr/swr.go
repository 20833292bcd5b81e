// Package swr provides a resampling primitive backed by FFmpeg's libswresample.
package swr

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
	"github.com/qieqieplus/cef-audio-bridge/pkg/resample"
)

// headroom covers the samples libswresample may hold back and release later.
const headroom = 64

// Factory builds libswresample primitives. libswresample remixes channel
// layouts itself, so mono input is upmixed during conversion.
type Factory struct{}

func (Factory) Capabilities() resample.Capabilities {
	return resample.Capabilities{Remix: true}
}

func (Factory) New(in, out audio.AudioFormat) (resample.Primitive, error) {
	if !in.Valid() || !out.Valid() {
		return nil, fmt.Errorf("%w: %v -> %v", resample.ErrInvalidFormat, in, out)
	}
	inLayout, err := layoutFor(in.Channels)
	if err != nil {
		return nil, err
	}
	outLayout, err := layoutFor(out.Channels)
	if err != nil {
		return nil, err
	}

	ctx := astiav.AllocSoftwareResampleContext()
	if ctx == nil {
		return nil, errors.New("alloc swr")
	}

	src := astiav.AllocFrame()
	dst := astiav.AllocFrame()
	if src == nil || dst == nil {
		if src != nil {
			src.Free()
		}
		if dst != nil {
			dst.Free()
		}
		ctx.Free()
		return nil, errors.New("alloc frames")
	}

	return &Primitive{
		ctx:       ctx,
		src:       src,
		dst:       dst,
		in:        in,
		out:       out,
		inLayout:  inLayout,
		outLayout: outLayout,
	}, nil
}

func layoutFor(channels int) (astiav.ChannelLayout, error) {
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono, nil
	case 2:
		return astiav.ChannelLayoutStereo, nil
	case 3:
		return astiav.ChannelLayout2Point1, nil
	case 4:
		return astiav.ChannelLayoutQuad, nil
	case 6:
		return astiav.ChannelLayout5Point1, nil
	case 8:
		return astiav.ChannelLayout7Point1, nil
	default:
		return astiav.ChannelLayout{}, fmt.Errorf("unsupported channel count %d", channels)
	}
}

// Primitive converts interleaved float frames through a SoftwareResampleContext.
// The engine's planar input is interleaved first and the output split again.
type Primitive struct {
	mu        sync.Mutex
	ctx       *astiav.SoftwareResampleContext
	src       *astiav.Frame
	dst       *astiav.Frame
	in        audio.AudioFormat
	out       audio.AudioFormat
	inLayout  astiav.ChannelLayout
	outLayout astiav.ChannelLayout
	scratch   []float32
}

func (p *Primitive) Resample(in [][]float32, frames int) ([][]float32, int, error) {
	if frames <= 0 {
		return nil, 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		return nil, 0, errors.New("swr primitive closed")
	}

	if cap(p.scratch) < frames*p.in.Channels {
		p.scratch = make([]float32, frames*p.in.Channels)
	}
	interleaved := p.scratch[:frames*p.in.Channels]
	audio.PlanarToInterleaved(in, interleaved, frames, p.in.Channels)

	p.src.Unref()
	p.src.SetChannelLayout(p.inLayout)
	p.src.SetSampleRate(p.in.SampleRate)
	p.src.SetSampleFormat(astiav.SampleFormatFlt)
	p.src.SetNbSamples(frames)
	if err := p.src.AllocBuffer(0); err != nil {
		return nil, 0, fmt.Errorf("src alloc buffer: %w", err)
	}
	if err := p.src.Data().SetBytes(audio.EncodeFloat32LE(interleaved, nil), 0); err != nil {
		return nil, 0, fmt.Errorf("set src bytes: %w", err)
	}

	p.dst.Unref()
	p.dst.SetChannelLayout(p.outLayout)
	p.dst.SetSampleRate(p.out.SampleRate)
	p.dst.SetSampleFormat(astiav.SampleFormatFlt)
	p.dst.SetNbSamples(int(math.Ceil(float64(frames)*float64(p.out.SampleRate)/float64(p.in.SampleRate))) + headroom)
	if err := p.dst.AllocBuffer(0); err != nil {
		return nil, 0, fmt.Errorf("dst alloc buffer: %w", err)
	}

	if err := p.ctx.ConvertFrame(p.src, p.dst); err != nil {
		return nil, 0, fmt.Errorf("swr convert: %w", err)
	}

	outFrames := p.dst.NbSamples()
	if outFrames <= 0 {
		return nil, 0, nil
	}

	b, err := p.dst.Data().Bytes(0)
	if err != nil {
		return nil, 0, fmt.Errorf("dst bytes: %w", err)
	}
	samples := audio.DecodeFloat32LE(b)
	outFrames = min(outFrames, len(samples)/p.out.Channels)

	planes := make([][]float32, p.out.Channels)
	for ch := range planes {
		planes[ch] = make([]float32, outFrames)
	}
	audio.InterleavedToPlanar(samples, planes, outFrames, p.out.Channels)
	return planes, outFrames, nil
}

func (p *Primitive) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src != nil {
		p.src.Free()
		p.src = nil
	}
	if p.dst != nil {
		p.dst.Free()
		p.dst = nil
	}
	if p.ctx != nil {
		p.ctx.Free()
		p.ctx = nil
	}
}
