package frames

import (
	"encoding/binary"
	"sync/atomic"
	"time"
)

// AudioFrame is a fixed-duration chunk of little-endian 16-bit PCM.
// Frames are immutable once created: accessors return copies.
type AudioFrame struct {
	seq  uint64
	at   time.Time
	data []byte
	rate int
	ch   int
	meta map[string]string
}

func NewAudioFrame(seq uint64, at time.Time, pcm []byte, rate, ch int, meta map[string]string) AudioFrame {
	if ch <= 0 {
		ch = 1
	}
	return AudioFrame{
		seq:  seq,
		at:   at,
		data: append([]byte(nil), pcm...),
		rate: rate,
		ch:   ch,
		meta: cloneMeta(meta),
	}
}

// NewAudioFrameFromSamples encodes samples as PCM16LE.
func NewAudioFrameFromSamples(seq uint64, at time.Time, samples []int16, rate, ch int, meta map[string]string) AudioFrame {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	f := NewAudioFrame(seq, at, nil, rate, ch, meta)
	f.data = buf
	return f
}

func (a AudioFrame) Seq() uint64             { return a.seq }
func (a AudioFrame) Timestamp() time.Time    { return a.at }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) MetaValue(key string) string {
	if a.meta == nil {
		return ""
	}
	return a.meta[key]
}

// Samples decodes the payload into interleaved int16 samples.
func (a AudioFrame) Samples() []int16 {
	out := make([]int16, len(a.data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(a.data[i*2:]))
	}
	return out
}

// Duration is derived from the payload size, rate and channel count.
func (a AudioFrame) Duration() time.Duration {
	if a.rate <= 0 || a.ch <= 0 {
		return 0
	}
	samples := len(a.data) / 2 / a.ch
	return time.Duration(samples) * time.Second / time.Duration(a.rate)
}

// WithMeta returns a copy of the frame carrying the merged metadata.
func (a AudioFrame) WithMeta(meta map[string]string) AudioFrame {
	out := a
	out.meta = cloneMeta(a.meta)
	if out.meta == nil {
		out.meta = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		out.meta[k] = v
	}
	return out
}

// SeqGen hands out monotonic sequence numbers for one stream.
type SeqGen struct {
	next atomic.Uint64
}

func (g *SeqGen) Next() uint64 {
	return g.next.Add(1)
}

func cloneMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
