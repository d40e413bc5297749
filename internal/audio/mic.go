package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	initMu    sync.Mutex
	initCount int
)

// Initialize brings up PortAudio. Calls nest; each must be paired with Terminate.
func Initialize() error {
	initMu.Lock()
	defer initMu.Unlock()

	if initCount == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("initialize portaudio: %w", err)
		}
	}
	initCount++
	return nil
}

// Terminate releases one Initialize call.
func Terminate() error {
	initMu.Lock()
	defer initMu.Unlock()

	if initCount == 0 {
		return nil
	}
	initCount--
	if initCount == 0 {
		return portaudio.Terminate()
	}
	return nil
}

// Mic is a mono PCM16 capture stream on the default input device.
type Mic struct {
	stream *portaudio.Stream
	buf    []int16

	closeOnce sync.Once
}

// OpenMic opens (but does not start) the default input at sampleRate with a
// buffer of framesPerBuffer frames.
func OpenMic(sampleRate, framesPerBuffer int) (*Mic, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("open default input at %d Hz: %w", sampleRate, err)
	}
	return &Mic{stream: stream, buf: buf}, nil
}

func (m *Mic) Start() error { return m.stream.Start() }

// Close stops capture and releases the device. A blocked Stream call returns.
func (m *Mic) Close() error {
	var err error
	m.closeOnce.Do(func() {
		_ = m.stream.Stop()
		err = m.stream.Close()
	})
	return err
}

// Stream reads from the mic and writes PCM16-LE to w until an error or Close.
func (m *Mic) Stream(w io.Writer) error {
	var out bytes.Buffer
	out.Grow(len(m.buf) * 2)
	for {
		if err := m.stream.Read(); err != nil {
			return err
		}
		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, m.buf); err != nil {
			return err
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return err
		}
	}
}
