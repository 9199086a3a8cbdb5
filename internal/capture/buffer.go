package capture

import (
	"sync"

	"github.com/pavelanni/interviewer/internal/model"
)

// Buffer accumulates the chunks of one recording. It is opened by
// NewBuffer, filled by Append and closed by either Finalize or Close.
type Buffer struct {
	mu          sync.Mutex
	contentType string
	chunks      [][]byte
	size        int
	closed      bool
}

// NewBuffer opens an empty buffer for audio of the given container type.
func NewBuffer(contentType string) *Buffer {
	if contentType == "" {
		contentType = model.ContentTypeWebM
	}
	return &Buffer{contentType: contentType}
}

// Append copies chunk into the buffer. Empty chunks are ignored.
func (b *Buffer) Append(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBufferClosed
	}
	if len(chunk) == 0 {
		return nil
	}
	b.chunks = append(b.chunks, append([]byte(nil), chunk...))
	b.size += len(chunk)
	return nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Finalize closes the buffer and returns its chunks concatenated in arrival
// order. Raw PCM is wrapped in a WAV container.
func (b *Buffer) Finalize() (model.AudioArtifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return model.AudioArtifact{}, ErrBufferClosed
	}
	b.closed = true

	data := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		data = append(data, c...)
	}
	b.chunks = nil

	if b.contentType == model.ContentTypePCM {
		return model.AudioArtifact{
			Data:        EncodeWAV(data, PCMSampleRate, PCMChannels),
			ContentType: model.ContentTypeWAV,
		}, nil
	}
	return model.AudioArtifact{Data: data, ContentType: b.contentType}, nil
}

// Close discards the buffered audio.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.chunks = nil
	b.size = 0
}
