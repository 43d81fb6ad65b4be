package proc

import (
	"bufio"
	"bytes"
	"io"
	"sync"
)

// StreamProvider implements voice.OpusFrameProvider on top of an Ogg/Opus
// byte stream, typically the stdout of a transcoder process. Metadata packets
// are skipped; OnFinish fires exactly once when the stream ends.
type StreamProvider struct {
	reader   *bufio.Reader
	pending  [][]byte
	assembly bytes.Buffer

	header []byte
	segBuf []byte

	OnFinish func()
	once     sync.Once
}

func NewStreamProvider(r io.Reader) *StreamProvider {
	return &StreamProvider{
		reader: bufio.NewReaderSize(r, 16384),
		header: make([]byte, 27),
		segBuf: make([]byte, 255),
	}
}

func (p *StreamProvider) Close() {}

func (p *StreamProvider) finish() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

// ProvideOpusFrame returns the next Opus packet from the stream.
func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	for len(p.pending) == 0 {
		if err := p.readPage(); err != nil {
			p.finish()
			return nil, err
		}
	}
	frame := p.pending[0]
	p.pending = p.pending[1:]
	return frame, nil
}

// readPage consumes one Ogg page and appends its complete packets to pending.
// Packets spanning pages stay in the assembly buffer until their final segment
// arrives.
func (p *StreamProvider) readPage() error {
	// Resynchronize on the page capture pattern; transcoder stderr noise or
	// truncated pages must not wedge the parser.
	for {
		sig, err := p.reader.Peek(4)
		if err != nil {
			return err
		}
		if bytes.Equal(sig, []byte("OggS")) {
			break
		}
		if _, err := p.reader.Discard(1); err != nil {
			return err
		}
	}

	if _, err := io.ReadFull(p.reader, p.header); err != nil {
		return err
	}

	numSegs := int(p.header[26])
	segTable := p.segBuf[:numSegs]
	if _, err := io.ReadFull(p.reader, segTable); err != nil {
		return err
	}

	for _, segLen := range segTable {
		l := int(segLen)
		if _, err := io.CopyN(&p.assembly, p.reader, int64(l)); err != nil {
			return err
		}
		// A segment shorter than 255 bytes terminates the packet.
		if l == 255 {
			continue
		}

		payload := p.assembly.Bytes()
		frame := make([]byte, len(payload))
		copy(frame, payload)
		p.assembly.Reset()

		if len(frame) > 8 && (string(frame[:8]) == "OpusHead" || string(frame[:8]) == "OpusTags") {
			continue
		}
		p.pending = append(p.pending, frame)
	}
	return nil
}
