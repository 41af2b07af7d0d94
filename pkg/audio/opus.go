package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// OpusFrameMs is the packet duration browsers and most encoders emit.
const OpusFrameMs = 20

// OpusDecoder decodes a single stream of Opus packets to mono PCM16. One
// decoder per stream; decoder state carries across packets, so it is not
// safe for concurrent use.
type OpusDecoder struct {
	dec       *gopus.Decoder
	format    Format
	frameSize int
}

// NewOpusDecoder creates a decoder producing PCM at sampleRate with the given
// channel count. Opus only supports 8, 12, 16, 24 and 48 kHz.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:       dec,
		format:    Format{SampleRate: sampleRate, Channels: channels},
		frameSize: sampleRate * OpusFrameMs / 1000,
	}, nil
}

// Format returns the PCM format of decoded output before down-mixing.
func (d *OpusDecoder) Format() Format { return d.format }

// Decode decodes one Opus packet to mono little-endian PCM16.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	out := Int16sToBytes(pcm)
	if d.format.Channels == 2 {
		out = StereoToMono(out)
	}
	return out, nil
}

// OpusEncoder encodes PCM16 frames to Opus packets. It exists mainly so
// tests and tools can produce realistic client streams.
type OpusEncoder struct {
	enc       *gopus.Encoder
	frameSize int
}

// NewOpusEncoder creates a VoIP-tuned encoder.
func NewOpusEncoder(sampleRate, channels int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc, frameSize: sampleRate * OpusFrameMs / 1000}, nil
}

// Encode encodes exactly one frame of interleaved PCM16 bytes.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	packet, err := e.enc.Encode(BytesToInt16s(pcm), e.frameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return packet, nil
}
