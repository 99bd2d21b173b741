package posesource

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-posematch/modules/landmarks"
)

// maxFrameSize bounds one estimator message; 33 points of 4 floats need well
// under 2 KiB.
const maxFrameSize = 1 << 20

// FrameMessage is one estimator output on the wire.
//
//	{"detected": true, "timestamp_ms": 1700000000123,
//	 "landmarks": [[x, y, z, visibility], ...]}   (BlazePose index order)
type FrameMessage struct {
	Detected    bool        `msgpack:"detected"`
	TimestampMS int64       `msgpack:"timestamp_ms"`
	Landmarks   [][]float64 `msgpack:"landmarks"`
}

// Snapshot converts the message; nil when no body was detected.
func (m FrameMessage) Snapshot() (*landmarks.Snapshot, error) {
	if !m.Detected || len(m.Landmarks) == 0 {
		return nil, nil
	}

	at := time.Now()
	if m.TimestampMS > 0 {
		at = time.UnixMilli(m.TimestampMS)
	}

	s := landmarks.NewSnapshot(at)
	for i, p := range m.Landmarks {
		if i >= landmarks.StandardCount {
			break
		}
		if len(p) < 2 {
			return nil, fmt.Errorf("landmark %d: need at least x,y, got %d values", i, len(p))
		}
		l := landmarks.Landmark{X: p[0], Y: p[1], Visibility: 1}
		if len(p) > 2 {
			l.Z = p[2]
		}
		if len(p) > 3 {
			l.Visibility = p[3]
		}
		if !finite(l.X) || !finite(l.Y) {
			continue
		}
		if !finite(l.Z) {
			l.Z = 0
		}
		if !finite(l.Visibility) {
			l.Visibility = 0
		}
		s.Landmarks[landmarks.Index(i)] = l
	}
	if s.IsEmpty() {
		return nil, nil
	}
	return s, nil
}

// NewFrameMessage builds the wire form of s (nil = no body).
func NewFrameMessage(s *landmarks.Snapshot) FrameMessage {
	if s.IsEmpty() {
		return FrameMessage{}
	}
	m := FrameMessage{
		Detected:    true,
		TimestampMS: s.CapturedAt.UnixMilli(),
		Landmarks:   make([][]float64, landmarks.StandardCount),
	}
	for i := 0; i < landmarks.StandardCount; i++ {
		l, ok := s.Get(landmarks.Index(i))
		if !ok {
			m.Landmarks[i] = []float64{math.NaN(), math.NaN(), 0, 0}
			continue
		}
		m.Landmarks[i] = []float64{l.X, l.Y, l.Z, l.Visibility}
	}
	return m
}

// WriteFrame writes m with length-prefix framing (4 bytes big-endian +
// msgpack payload).
func WriteFrame(w io.Writer, m FrameMessage) error {
	payload, err := msgpack.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message. io.EOF is returned unwrapped
// when the stream ends on a message boundary.
func ReadFrame(r io.Reader) (FrameMessage, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return FrameMessage{}, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return FrameMessage{}, fmt.Errorf("frame of %d bytes exceeds limit %d", n, maxFrameSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return FrameMessage{}, fmt.Errorf("read payload (%d bytes): %w", n, err)
	}

	var m FrameMessage
	if err := msgpack.Unmarshal(payload, &m); err != nil {
		return FrameMessage{}, &decodeError{err: err}
	}
	return m, nil
}

// decodeError marks a well-framed but undecodable payload; the stream can
// continue after it.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode frame: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
