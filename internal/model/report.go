package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Codec errors.
var (
	ErrTruncatedReport = errors.New("report truncated")
	ErrTrailingBytes   = errors.New("trailing bytes after report")
)

// RegionCycles is the cycle count attributed to a named region.
type RegionCycles struct {
	Name   string `json:"name"`
	Cycles uint64 `json:"cycles"`
}

// ExecutionReport summarizes a program execution. RegionCycles keeps the
// order reported by the backend.
type ExecutionReport struct {
	TotalCycles       uint64         `json:"total_num_cycles"`
	RegionCycles      []RegionCycles `json:"region_cycles,omitempty"`
	ExecutionDuration time.Duration  `json:"execution_duration"`
}

// ProvingReport summarizes a proof generation.
type ProvingReport struct {
	ProvingDuration time.Duration `json:"proving_duration"`
}

// Reports are encoded little-endian with fixed-width integers: u64 length
// prefixes for strings and sequences, durations as u64 seconds followed by
// u32 nanoseconds.

// EncodeExecutionReport encodes r in the stable binary form.
func EncodeExecutionReport(r ExecutionReport) []byte {
	buf := make([]byte, 0, 8+8+len(r.RegionCycles)*24+12)
	buf = binary.LittleEndian.AppendUint64(buf, r.TotalCycles)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(r.RegionCycles)))
	for _, rc := range r.RegionCycles {
		buf = appendString(buf, rc.Name)
		buf = binary.LittleEndian.AppendUint64(buf, rc.Cycles)
	}
	return appendDuration(buf, r.ExecutionDuration)
}

// DecodeExecutionReport decodes the output of EncodeExecutionReport.
func DecodeExecutionReport(data []byte) (ExecutionReport, error) {
	d := reportDecoder{buf: data}
	var r ExecutionReport
	r.TotalCycles = d.u64()
	n := d.u64()
	// Each region takes at least 16 bytes.
	if d.err == nil && n > uint64(d.remaining()/16) {
		d.err = fmt.Errorf("%w: %d regions in %d bytes", ErrTruncatedReport, n, d.remaining())
	}
	if d.err == nil && n > 0 {
		r.RegionCycles = make([]RegionCycles, 0, n)
		for i := uint64(0); i < n && d.err == nil; i++ {
			name := d.str()
			cycles := d.u64()
			r.RegionCycles = append(r.RegionCycles, RegionCycles{Name: name, Cycles: cycles})
		}
	}
	r.ExecutionDuration = d.duration()
	if err := d.finish(); err != nil {
		return ExecutionReport{}, fmt.Errorf("decode execution report: %w", err)
	}
	return r, nil
}

// EncodeProvingReport encodes r in the stable binary form.
func EncodeProvingReport(r ProvingReport) []byte {
	return appendDuration(make([]byte, 0, 12), r.ProvingDuration)
}

// DecodeProvingReport decodes the output of EncodeProvingReport.
func DecodeProvingReport(data []byte) (ProvingReport, error) {
	d := reportDecoder{buf: data}
	r := ProvingReport{ProvingDuration: d.duration()}
	if err := d.finish(); err != nil {
		return ProvingReport{}, fmt.Errorf("decode proving report: %w", err)
	}
	return r, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendDuration(buf []byte, d time.Duration) []byte {
	if d < 0 {
		d = 0
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(d/time.Second))
	return binary.LittleEndian.AppendUint32(buf, uint32(d%time.Second))
}

type reportDecoder struct {
	buf []byte
	off int
	err error
}

func (d *reportDecoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *reportDecoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.remaining() < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedReport, n, d.off, d.remaining())
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *reportDecoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *reportDecoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *reportDecoder) str() string {
	n := d.u64()
	if d.err != nil {
		return ""
	}
	if n > uint64(d.remaining()) {
		d.err = fmt.Errorf("%w: string of %d bytes at offset %d", ErrTruncatedReport, n, d.off)
		return ""
	}
	return string(d.take(int(n)))
}

func (d *reportDecoder) duration() time.Duration {
	secs := d.u64()
	nanos := d.u32()
	if d.err != nil {
		return 0
	}
	if nanos >= uint32(time.Second) {
		d.err = fmt.Errorf("invalid duration nanoseconds %d", nanos)
		return 0
	}
	if secs > uint64(math.MaxInt64/int64(time.Second)) {
		d.err = fmt.Errorf("duration of %d seconds overflows", secs)
		return 0
	}
	return time.Duration(secs)*time.Second + time.Duration(nanos)
}

func (d *reportDecoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.remaining() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, d.remaining())
	}
	return nil
}
