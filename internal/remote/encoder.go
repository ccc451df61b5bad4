package remote

import (
	"fmt"

	"layeh.com/gopus"
)

// chunkEncoder accumulates raw PCM into fixed-duration chunks and encodes
// each chunk as a single Opus packet for the streaming socket. It is used
// by exactly one writer goroutine per connection and is not safe for
// concurrent use.
type chunkEncoder struct {
	enc        *gopus.Encoder
	sampleRate int
	channels   int

	// samplesPerChunk is per channel.
	samplesPerChunk int
	pending         []int16
}

// opusFrameMs lists the frame durations Opus can encode, longest first.
var opusFrameMs = []int{60, 40, 20, 10, 5}

// newChunkEncoder creates an encoder producing one packet per chunk.
// Opus only encodes fixed frame durations, so chunkMs is rounded down to
// the largest supported duration (60 ms ceiling). Returns an error when
// the runtime cannot encode the requested format (surfaced to the caller
// as a config failure).
func newChunkEncoder(sampleRate, channels, chunkMs int) (*chunkEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("remote: create opus encoder: %w", err)
	}

	frameMs := opusFrameMs[len(opusFrameMs)-1]
	for _, ms := range opusFrameMs {
		if chunkMs >= ms {
			frameMs = ms
			break
		}
	}

	return &chunkEncoder{
		enc:             enc,
		sampleRate:      sampleRate,
		channels:        channels,
		samplesPerChunk: sampleRate * frameMs / 1000,
	}, nil
}

// push appends little-endian int16 PCM bytes to the pending buffer and
// returns all completed encoded chunks, in order. Partial chunk remainders
// stay buffered for the next call.
func (c *chunkEncoder) push(pcm []byte) ([][]byte, error) {
	for i := 0; i+1 < len(pcm); i += 2 {
		c.pending = append(c.pending, int16(pcm[i])|int16(pcm[i+1])<<8)
	}

	perChunk := c.samplesPerChunk * c.channels
	var out [][]byte
	for len(c.pending) >= perChunk {
		frame := c.pending[:perChunk]
		c.pending = c.pending[perChunk:]

		packet, err := c.enc.Encode(frame, c.samplesPerChunk, perChunk*2)
		if err != nil {
			return nil, fmt.Errorf("remote: opus encode: %w", err)
		}
		out = append(out, packet)
	}
	return out, nil
}
