package sync

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Store keeps exchanged package bytes on disk, one directory per day,
// keyed by transaction id: <root>/<yyyymmdd>/<tid>.bkp holds the inbound
// upload, <tid>.pkg the processed outbound package. Persisting the
// outbound bytes before answering lets a client recover an interrupted
// exchange by re-downloading after reconnect.
type Store struct {
	root string
	now  func() time.Time
}

func NewStore(root string) *Store {
	return &Store{root: root, now: time.Now}
}

func (s *Store) dayDir() string {
	return filepath.Join(s.root, s.now().Format("20060102"))
}

func (s *Store) inboundPath(tid string) string {
	return filepath.Join(s.dayDir(), tid+".bkp")
}

func (s *Store) outboundPath(tid string) string {
	return filepath.Join(s.dayDir(), tid+".pkg")
}

// AppendInbound adds one uploaded chunk to the stored inbound package.
func (s *Store) AppendInbound(tid string, chunk []byte) error {
	if err := os.MkdirAll(s.dayDir(), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.inboundPath(tid), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(chunk)
	return err
}

func (s *Store) ReadInbound(tid string) ([]byte, error) {
	return os.ReadFile(s.inboundPath(tid))
}

func (s *Store) WriteOutbound(tid string, data []byte) error {
	if err := os.MkdirAll(s.dayDir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.outboundPath(tid), data, 0o644)
}

// Chunk is one position-addressed slice of a stored outbound package.
type Chunk struct {
	Data        []byte
	Start       int64
	TotalLength int64
	// Final marks the last chunk; the transfer is complete once the
	// client consumed it.
	Final bool
}

var ErrNoPackage = errors.New("no stored package")

// ReadChunk serves download requests: a fixed-size slice starting at
// position. On failure the returned chunk still carries the last known
// position and total length so the caller can decide to retry or abort.
func (s *Store) ReadChunk(tid string, position, size int64) (*Chunk, error) {
	chunk := &Chunk{Start: position}
	if size <= 0 {
		return chunk, fmt.Errorf("invalid chunk size %d", size)
	}
	f, err := os.Open(s.outboundPath(tid))
	if err != nil {
		if os.IsNotExist(err) {
			return chunk, fmt.Errorf("%w: %s", ErrNoPackage, tid)
		}
		return chunk, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return chunk, err
	}
	chunk.TotalLength = info.Size()
	if position < 0 || position > chunk.TotalLength {
		return chunk, fmt.Errorf("position %d out of range 0..%d", position, chunk.TotalLength)
	}

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, position)
	if err != nil && err != io.EOF {
		return chunk, err
	}
	chunk.Data = buf[:n]
	chunk.Start = position + size
	chunk.Final = position+size >= chunk.TotalLength
	return chunk, nil
}
