// Package pack implements the self-describing binary pack codec: a
// container carrying a set of layers plus their parent-child relationships,
// and the payload wrapper that prepends a repository-head hint to a pack.
//
// The wire format is a bit-level contract (spec §6) and must be
// byte-compatible across implementations of the same protocol version, so
// it is hand-rolled on top of encoding/binary rather than a generic framing
// library — see DESIGN.md for why no third-party codec fits an externally
// fixed byte layout.
package pack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/ulikunitz/xz"
)

// magic is the fixed prefix identifying a pack stream of this protocol
// version.
var magic = [5]byte{'O', 'B', 'P', 'K', 1}

const (
	flagHasParent  byte = 1 << 0
	flagCompressed byte = 1 << 1
)

// CompressionThreshold is the payload size at or above which BuildPack transparently
// xz-compresses an entry's bytes before framing it.
const CompressionThreshold = 4096

// Entry is one (layer-id, parent-id?, bytes) record carried by a pack.
type Entry struct {
	LayerID   layerhash.Hash
	ParentID  layerhash.Hash // zero value means "no parent" (base layer)
	HasParent bool
	Bytes     []byte
}

// IDParent is the lightweight membership view returned by LayerIDsAndParents.
type IDParent struct {
	LayerID   layerhash.Hash
	ParentID  layerhash.Hash
	HasParent bool
}

// Pack is an opaque byte stream encoding a set of layers. Its zero value is
// not a valid pack; use BuildPack or RepositoryHeadAndPack.
type Pack []byte

// Payload is a pack prefixed with a 20-byte repository-head hint.
type Payload []byte

// BuildPack serializes entries into a pack, symmetrical with pack_iter.
func BuildPack(entries []Entry) (Pack, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(entries)))
	buf.Write(countBuf[:])

	for _, e := range entries {
		if err := writeEntry(&buf, e); err != nil {
			return nil, fmt.Errorf("pack: encode entry %s: %w", e.LayerID, err)
		}
	}

	return Pack(buf.Bytes()), nil
}

func writeEntry(w *bytes.Buffer, e Entry) error {
	w.Write(e.LayerID[:])

	flags := byte(0)
	if e.HasParent {
		flags |= flagHasParent
	}

	payload := e.Bytes
	compressed := false
	if len(payload) >= CompressionThreshold {
		c, err := compress(payload)
		if err == nil && len(c) < len(payload) {
			payload = c
			compressed = true
		}
	}
	if compressed {
		flags |= flagCompressed
	}

	w.WriteByte(flags)
	if e.HasParent {
		w.Write(e.ParentID[:])
	}

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	w.Write(lenBuf[:])
	w.Write(payload)
	return nil
}

func compress(b []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := xz.NewWriter(&out)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func decompress(b []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Decoder streams entries out of a pack without materializing the whole
// set in memory at once (pack_iter).
type Decoder struct {
	r         *bufio.Reader
	remaining uint32
}

// NewDecoder validates the magic prefix and prepares a streaming decoder.
func NewDecoder(p Pack) (*Decoder, error) {
	r := bufio.NewReader(bytes.NewReader(p))

	var gotMagic [5]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, fmt.Errorf("pack: read magic: %w", err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("pack: bad magic prefix")
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("pack: read entry count: %w", err)
	}

	return &Decoder{r: r, remaining: binary.BigEndian.Uint32(countBuf[:])}, nil
}

// Next returns the next entry, or ok=false once the pack is exhausted.
func (d *Decoder) Next() (entry Entry, ok bool, err error) {
	if d.remaining == 0 {
		return Entry{}, false, nil
	}
	d.remaining--

	var layerID layerhash.Hash
	if _, err := io.ReadFull(d.r, layerID[:]); err != nil {
		return Entry{}, false, fmt.Errorf("pack: read layer id: %w", err)
	}

	flagsByte, err := d.r.ReadByte()
	if err != nil {
		return Entry{}, false, fmt.Errorf("pack: read flags: %w", err)
	}

	e := Entry{LayerID: layerID}
	if flagsByte&flagHasParent != 0 {
		e.HasParent = true
		if _, err := io.ReadFull(d.r, e.ParentID[:]); err != nil {
			return Entry{}, false, fmt.Errorf("pack: read parent id: %w", err)
		}
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		return Entry{}, false, fmt.Errorf("pack: read payload length: %w", err)
	}
	payloadLen := binary.BigEndian.Uint64(lenBuf[:])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Entry{}, false, fmt.Errorf("pack: read payload: %w", err)
	}

	if flagsByte&flagCompressed != 0 {
		payload, err = decompress(payload)
		if err != nil {
			return Entry{}, false, fmt.Errorf("pack: decompress payload: %w", err)
		}
	}
	e.Bytes = payload

	return e, true, nil
}

// Iter decodes every entry in the pack at once (pack_iter).
func Iter(p Pack) ([]Entry, error) {
	dec, err := NewDecoder(p)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for {
		e, ok, err := dec.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

// LayerIDsAndParents enumerates membership (pack_layerids_and_parents). It
// decodes the whole pack through Iter, payload bytes included, and returns
// only the ids and parent links.
func LayerIDsAndParents(p Pack) ([]IDParent, error) {
	entries, err := Iter(p)
	if err != nil {
		return nil, err
	}
	out := make([]IDParent, len(entries))
	for i, e := range entries {
		out[i] = IDParent{LayerID: e.LayerID, ParentID: e.ParentID, HasParent: e.HasParent}
	}
	return out, nil
}

// WrapPayload prepends a repository-head hint to a pack, producing a
// payload suitable for transmission.
func WrapPayload(head layerhash.Hash, p Pack) Payload {
	out := make([]byte, 0, layerhash.Size+len(p))
	out = append(out, head[:]...)
	out = append(out, p...)
	return Payload(out)
}

// RepositoryHeadAndPack splits a payload back into its head hint and pack.
func RepositoryHeadAndPack(payload Payload) (layerhash.Hash, Pack, error) {
	if len(payload) < layerhash.Size {
		return layerhash.Hash{}, nil, fmt.Errorf("pack: payload shorter than head hint")
	}
	head, err := layerhash.FromBytes(payload[:layerhash.Size])
	if err != nil {
		return layerhash.Hash{}, nil, err
	}
	return head, Pack(payload[layerhash.Size:]), nil
}
