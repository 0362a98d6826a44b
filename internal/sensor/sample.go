package sensor

import (
	"encoding/binary"

	"codeberg.org/mutker/simtemp/internal/errors"
)

// SampleSize is the size of the wire record: u64 timestamp, s32 temperature,
// u32 flags, little endian, no padding.
const SampleSize = 16

// Flags is the per-sample bitset.
type Flags uint32

const (
	FlagNewSample        Flags = 1 << 0
	FlagThresholdCrossed Flags = 1 << 1
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Sample is one temperature reading. It is created by the producer and
// never mutated afterwards.
type Sample struct {
	Timestamp  uint64 // monotonic nanoseconds, anchored at the Unix epoch
	TempMilliC int32
	Flags      Flags
}

// Crossed reports whether this sample triggered a threshold event.
func (s Sample) Crossed() bool {
	return s.Flags.Has(FlagThresholdCrossed)
}

// AppendBinary appends the 16-byte wire record to b.
func (s Sample) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, s.Timestamp)
	b = binary.LittleEndian.AppendUint32(b, uint32(s.TempMilliC))
	return binary.LittleEndian.AppendUint32(b, uint32(s.Flags))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s Sample) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, SampleSize)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Sample) UnmarshalBinary(b []byte) error {
	if len(b) != SampleSize {
		return errors.New().WithData(errors.ErrInvalidArgument, struct {
			Want int
			Got  int
		}{
			Want: SampleSize,
			Got:  len(b),
		})
	}

	s.Timestamp = binary.LittleEndian.Uint64(b[0:8])
	s.TempMilliC = int32(binary.LittleEndian.Uint32(b[8:12]))
	s.Flags = Flags(binary.LittleEndian.Uint32(b[12:16]))

	return nil
}
