package simdevice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/frame"
)

// ErrStreaming is returned by StartStream on a running source.
var ErrStreaming = errors.New("stream already running")

// FrameSource generates frames for one sensor, stamped from the device
// clock of a Port. It implements device.StreamPort.
type FrameSource struct {
	sensor      frame.SensorType
	port        *Port
	clk         clock.Clock
	field       frame.MetadataType
	counterBits uint

	mu        sync.Mutex
	deliver   func(*frame.VideoFrame)
	fps       uint32
	number    uint64
	jumpUsec  int64
	dropMeta  int
	startErr  error
	stop      chan struct{}
	done      chan struct{}
	generated uint64
}

// NewFrameSource creates a source for sensor stamping field. counterBits
// wraps the stamped counter when non-zero.
func NewFrameSource(sensor frame.SensorType, port *Port, clk clock.Clock, field frame.MetadataType, counterBits uint) *FrameSource {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &FrameSource{sensor: sensor, port: port, clk: clk, field: field, counterBits: counterBits}
}

// Sensor returns the sensor type of the source.
func (s *FrameSource) Sensor() frame.SensorType { return s.sensor }

// FailStart makes the next StartStream return err.
func (s *FrameSource) FailStart(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

// InjectJump shifts the timestamp of every following frame by usec.
func (s *FrameSource) InjectJump(usec int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jumpUsec += usec
}

// DropMetadata makes the next n frames carry no timestamp metadata.
func (s *FrameSource) DropMetadata(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropMeta += n
}

// Generated returns the number of frames produced.
func (s *FrameSource) Generated() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generated
}

// Streaming reports whether the source is running.
func (s *FrameSource) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliver != nil
}

// StartStream starts producing frames at fps on a background goroutine
// driven by the source's clock.
func (s *FrameSource) StartStream(ctx context.Context, fps uint32, deliver func(*frame.VideoFrame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliver != nil {
		return ErrStreaming
	}
	if err := s.startErr; err != nil {
		s.startErr = nil
		return err
	}
	if fps == 0 {
		return errors.New("zero frame rate")
	}
	s.deliver = deliver
	s.fps = fps
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticker := s.clk.NewTicker(time.Second / time.Duration(fps))
	go s.run(ctx, ticker, s.stop, s.done)
	return nil
}

// StopStream stops the source and waits for the producer to exit.
func (s *FrameSource) StopStream() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done

	s.mu.Lock()
	s.deliver = nil
	s.mu.Unlock()
	return nil
}

func (s *FrameSource) run(ctx context.Context, ticker clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C():
			s.Emit()
		}
	}
}

// Emit produces one frame synchronously. It does nothing when the source
// is not streaming.
func (s *FrameSource) Emit() {
	s.mu.Lock()
	deliver := s.deliver
	if deliver == nil {
		s.mu.Unlock()
		return
	}
	s.number++
	s.generated++
	f := frame.NewVideoFrame(s.sensor, s.number, clock.NowUsec(s.clk))
	if s.dropMeta > 0 {
		s.dropMeta--
	} else {
		ts := int64(s.port.DeviceTimeUsec()) + s.jumpUsec
		if s.counterBits > 0 && s.counterBits < 64 {
			ts &= int64(1)<<s.counterBits - 1
		}
		f.SetMetadata(s.field, ts)
	}
	s.mu.Unlock()

	deliver(f)
}
