package audio

import (
	"encoding/binary"
	"sync/atomic"
)

// meter tracks the peak magnitude of s16le samples between reads.
type meter struct {
	peak atomic.Int32
}

// observe scans little-endian 16 bit samples and raises the peak.
func (m *meter) observe(pcm []byte) {
	var local int32
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if s < 0 {
			s = -s
		}
		if s > local {
			local = s
		}
	}
	if local > 32767 {
		local = 32767
	}
	for {
		cur := m.peak.Load()
		if local <= cur || m.peak.CompareAndSwap(cur, local) {
			return
		}
	}
}

// take returns the peak since the previous take and resets it.
func (m *meter) take() int {
	return int(m.peak.Swap(0))
}
