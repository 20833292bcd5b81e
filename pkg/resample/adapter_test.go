package resample

import (
	"errors"
	"sync"
	"testing"

	"github.com/qieqieplus/cef-audio-bridge/pkg/audio"
)

// countingFactory records constructions and closes of its primitives.
type countingFactory struct {
	mu      sync.Mutex
	remix   bool
	fail    error
	created int
	closed  int
	lastIn  audio.AudioFormat
	lastOut audio.AudioFormat
	resErr  error
}

func (f *countingFactory) New(in, out audio.AudioFormat) (Primitive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIn, f.lastOut = in, out
	if f.fail != nil {
		return nil, f.fail
	}
	f.created++
	return &countingPrimitive{factory: f, channels: out.Channels}, nil
}

func (f *countingFactory) Capabilities() Capabilities {
	return Capabilities{Remix: f.remix}
}

type countingPrimitive struct {
	factory  *countingFactory
	channels int
}

// Resample passes frames through unchanged, filling every output channel.
func (p *countingPrimitive) Resample(in [][]float32, frames int) ([][]float32, int, error) {
	if p.factory.resErr != nil {
		return nil, 0, p.factory.resErr
	}
	out := make([][]float32, p.channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
		copy(out[ch], in[min(ch, len(in)-1)])
	}
	return out, frames, nil
}

func (p *countingPrimitive) Close() {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	p.factory.closed++
}

func TestAdapterCompatibleFormatsAllocateNothing(t *testing.T) {
	f := &countingFactory{}
	a := NewAdapter(f)

	if err := a.Rebuild(audio.InputFormat(48000, 2, 480), audio.OutputFormat()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if a.Active() || a.Required() {
		t.Errorf("Active() = %v, Required() = %v, want false/false", a.Active(), a.Required())
	}
	if f.created != 0 {
		t.Errorf("factory created %d primitives, want 0", f.created)
	}
}

func TestAdapterRebuildAlwaysRecreates(t *testing.T) {
	f := &countingFactory{remix: true}
	a := NewAdapter(f)
	in := audio.InputFormat(44100, 2, 441)

	for i := 0; i < 2; i++ {
		if err := a.Rebuild(in, audio.OutputFormat()); err != nil {
			t.Fatalf("Rebuild() #%d error = %v", i, err)
		}
	}

	if f.created != 2 {
		t.Errorf("created = %d, want 2", f.created)
	}
	if f.closed != 1 {
		t.Errorf("closed = %d, want 1 (first primitive replaced)", f.closed)
	}
	if a.Builds() != 2 {
		t.Errorf("Builds() = %d, want 2", a.Builds())
	}
}

func TestAdapterCloseRefusesRebuild(t *testing.T) {
	f := &countingFactory{remix: true}
	a := NewAdapter(f)
	in := audio.InputFormat(44100, 2, 441)

	if err := a.Rebuild(in, audio.OutputFormat()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	a.Close()
	a.Close()

	if err := a.Rebuild(in, audio.OutputFormat()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Rebuild() after Close error = %v, want ErrUnavailable", err)
	}
	if a.Active() {
		t.Error("Active() = true after Close")
	}
	if f.created != 1 || f.closed != 1 {
		t.Errorf("created, closed = %d, %d, want 1, 1", f.created, f.closed)
	}
}

func TestAdapterFactoryFailureDegrades(t *testing.T) {
	f := &countingFactory{fail: errors.New("out of memory")}
	a := NewAdapter(f)

	err := a.Rebuild(audio.InputFormat(44100, 2, 441), audio.OutputFormat())
	if err == nil {
		t.Fatal("Rebuild() error = nil, want failure")
	}
	if !a.Degraded() {
		t.Error("Degraded() = false after failed build")
	}
	if _, n := a.Convert([][]float32{{1}, {1}}, 1); n != 0 {
		t.Errorf("Convert() on degraded adapter produced %d frames", n)
	}
}

func TestAdapterInvalidFormat(t *testing.T) {
	f := &countingFactory{}
	a := NewAdapter(f)

	err := a.Rebuild(audio.InputFormat(48000, 0, 480), audio.OutputFormat())
	if !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Rebuild() error = %v, want ErrInvalidFormat", err)
	}
	if !a.Required() || a.Active() {
		t.Errorf("Required() = %v, Active() = %v, want true/false", a.Required(), a.Active())
	}
	if f.created != 0 {
		t.Error("factory should not be asked for a degenerate format")
	}
}

func TestAdapterRemapsWhenPrimitiveCannotRemix(t *testing.T) {
	f := &countingFactory{remix: false}
	a := NewAdapter(f)

	if err := a.Rebuild(audio.InputFormat(44100, 1, 441), audio.OutputFormat()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if f.lastOut.Channels != 1 {
		t.Errorf("primitive built for %d output channels, want 1", f.lastOut.Channels)
	}

	out, n := a.Convert([][]float32{{0.5, 0.5, 0.5}}, 3)
	if n != 3 || len(out) != 2 {
		t.Fatalf("Convert() = %d planes x %d frames, want 2 x 3", len(out), n)
	}
	for ch := range out {
		for i, s := range out[ch] {
			if s != 0.5 {
				t.Errorf("out[%d][%d] = %v, want 0.5", ch, i, s)
			}
		}
	}
}

func TestAdapterConvertEmptyInput(t *testing.T) {
	a := NewAdapter(&countingFactory{remix: true})
	_ = a.Rebuild(audio.InputFormat(44100, 2, 441), audio.OutputFormat())

	if out, n := a.Convert(nil, 0); out != nil || n != 0 {
		t.Errorf("Convert(nil, 0) = %v, %d", out, n)
	}
	if _, n := a.Convert([][]float32{{}, {}}, 0); n != 0 {
		t.Errorf("Convert with zero frames produced %d", n)
	}
}

func TestAdapterPrimitiveErrorDropsPacket(t *testing.T) {
	f := &countingFactory{remix: true, resErr: errors.New("filter blew up")}
	a := NewAdapter(f)
	_ = a.Rebuild(audio.InputFormat(44100, 2, 441), audio.OutputFormat())

	if _, n := a.Convert([][]float32{{1}, {1}}, 1); n != 0 {
		t.Errorf("Convert() = %d frames, want 0 on primitive error", n)
	}
}

func TestAdapterDestroyIdempotent(t *testing.T) {
	f := &countingFactory{remix: true}
	a := NewAdapter(f)
	a.Destroy()

	_ = a.Rebuild(audio.InputFormat(44100, 2, 441), audio.OutputFormat())
	a.Destroy()
	a.Destroy()

	if f.closed != 1 {
		t.Errorf("closed = %d, want 1", f.closed)
	}
	if a.Active() {
		t.Error("Active() = true after Destroy")
	}
}

func TestAdapterDestroyRacesConvert(t *testing.T) {
	f := &countingFactory{remix: true}
	a := NewAdapter(f)
	_ = a.Rebuild(audio.InputFormat(44100, 2, 441), audio.OutputFormat())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			a.Convert([][]float32{{1, 2}, {3, 4}}, 2)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			a.Destroy()
		}
	}()
	wg.Wait()

	if f.closed != 1 {
		t.Errorf("closed = %d, want exactly 1", f.closed)
	}
}
