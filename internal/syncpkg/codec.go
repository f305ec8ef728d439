package syncpkg

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Wire layout: a fixed header ("FSPK", format version, flags) followed by
// the body: length-prefixed meta JSON, counted blocks, counted
// attachments. Bit 0 of the flags byte marks a gzip-compressed body.

var (
	magic = [4]byte{'F', 'S', 'P', 'K'}

	ErrBadMagic          = errors.New("not a sync package")
	ErrUnsupportedFormat = errors.New("unsupported package format version")
	ErrTruncated         = errors.New("truncated sync package")
)

const (
	formatVersion byte = 1
	flagGzip      byte = 1 << 0

	headerLen = 6

	// caps guard against hostile length prefixes
	maxSegment = 256 << 20
)

func Encode(p *Package, compress bool) ([]byte, error) {
	var body bytes.Buffer

	metaJSON, err := json.Marshal(p.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	writeBytes32(&body, metaJSON)

	names := make([]string, 0, len(p.Blocks))
	for name := range p.Blocks {
		names = append(names, name)
	}
	sort.Strings(names)
	writeCount(&body, len(names))
	for _, name := range names {
		writeBytes16(&body, []byte(name))
		writeBytes32(&body, p.Blocks[name])
	}

	writeCount(&body, len(p.Attachments))
	for _, att := range p.Attachments {
		writeBytes16(&body, []byte(att.Name))
		writeBytes16(&body, []byte(att.Link))
		writeBytes32(&body, att.Data)
	}

	var out bytes.Buffer
	out.Write(magic[:])
	out.WriteByte(formatVersion)
	if compress {
		out.WriteByte(flagGzip)
		zw := gzip.NewWriter(&out)
		if _, err := zw.Write(body.Bytes()); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	} else {
		out.WriteByte(0)
		out.Write(body.Bytes())
	}
	return out.Bytes(), nil
}

func Decode(raw []byte) (*Package, error) {
	if len(raw) < headerLen {
		return nil, ErrTruncated
	}
	if !bytes.Equal(raw[:4], magic[:]) {
		return nil, ErrBadMagic
	}
	if raw[4] != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, raw[4])
	}

	body := raw[headerLen:]
	if raw[5]&flagGzip != 0 {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("package body: %w", err)
		}
		defer zr.Close()
		body, err = io.ReadAll(io.LimitReader(zr, maxSegment))
		if err != nil {
			return nil, fmt.Errorf("package body: %w", err)
		}
	}

	r := &reader{buf: body}
	metaJSON, err := r.bytes32()
	if err != nil {
		return nil, err
	}
	p := &Package{Blocks: make(map[string]json.RawMessage)}
	if err := json.Unmarshal(metaJSON, &p.Meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}

	blockCount, err := r.count()
	if err != nil {
		return nil, err
	}
	for i := 0; i < blockCount; i++ {
		name, err := r.bytes16()
		if err != nil {
			return nil, err
		}
		payload, err := r.bytes32()
		if err != nil {
			return nil, err
		}
		p.Blocks[string(name)] = json.RawMessage(payload)
	}

	attCount, err := r.count()
	if err != nil {
		return nil, err
	}
	for i := 0; i < attCount; i++ {
		name, err := r.bytes16()
		if err != nil {
			return nil, err
		}
		link, err := r.bytes16()
		if err != nil {
			return nil, err
		}
		data, err := r.bytes32()
		if err != nil {
			return nil, err
		}
		p.Attachments = append(p.Attachments, Attachment{
			Name: string(name),
			Link: string(link),
			Data: append([]byte(nil), data...),
		})
	}
	return p, nil
}

func writeCount(w *bytes.Buffer, n int) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(n))
	w.Write(b[:])
}

func writeBytes16(w *bytes.Buffer, data []byte) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(data)))
	w.Write(b[:])
	w.Write(data)
}

func writeBytes32(w *bytes.Buffer, data []byte) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(data)))
	w.Write(b[:])
	w.Write(data)
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || n > maxSegment || r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) count() (int, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func (r *reader) bytes16() ([]byte, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	return r.take(n)
}

func (r *reader) bytes32() ([]byte, error) {
	b, err := r.take(4)
	if err != nil {
		return nil, err
	}
	return r.take(int(binary.BigEndian.Uint32(b)))
}
