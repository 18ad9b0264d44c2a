package pack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
)

// bundleMagic distinguishes a fetch-response bundle (payload plus commit
// graph) from a bare Payload, mirroring how internal/transport's message
// framing leads with a type tag before its length-prefixed fields.
var bundleMagic = [5]byte{'O', 'B', 'B', 'N', 1}

// EncodeBundle frames payload alongside the commit records and branch heads
// a remote-tracking fetch needs to reconstruct the sender's commit graph
// (see transport.PackResponse's doc comment). The wire format is manual
// big-endian length-prefixed framing in the style of
// internal/transport/message_codec.go and internal/carrier/block_messages.go:
//
//	[5B magic]
//	[8B payload length][payload bytes]
//	[4B commit count]
//	  for each commit:
//	    [20B commit id]
//	    [4B author length][author bytes]
//	    [4B message length][message bytes]
//	    [8B timestamp, big-endian int64]
//	    [4B parent count][20B * parent count]
//	    [1B graph count]
//	      for each graph: [1B name length][name bytes][20B layer id]
//	[4B branch-head count]
//	  for each entry: [4B branch name length][branch name bytes][20B commit id]
func EncodeBundle(payload Payload, commits []repometa.Commit, branchHeads map[string]repometa.CommitID) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(bundleMagic[:])

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(commits)))
	buf.Write(countBuf[:])
	for _, c := range commits {
		if err := writeCommit(&buf, c); err != nil {
			return nil, fmt.Errorf("pack: encode commit %s: %w", c.ID, err)
		}
	}

	binary.BigEndian.PutUint32(countBuf[:], uint32(len(branchHeads)))
	buf.Write(countBuf[:])
	for branch, head := range branchHeads {
		if err := writeString(&buf, branch); err != nil {
			return nil, fmt.Errorf("pack: encode branch %q: %w", branch, err)
		}
		buf.Write(head[:])
	}

	return buf.Bytes(), nil
}

func writeCommit(w *bytes.Buffer, c repometa.Commit) error {
	w.Write(c.ID[:])
	if err := writeString(w, c.Author); err != nil {
		return err
	}
	if err := writeString(w, c.Message); err != nil {
		return err
	}

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(c.Timestamp))
	w.Write(tsBuf[:])

	var parentCountBuf [4]byte
	binary.BigEndian.PutUint32(parentCountBuf[:], uint32(len(c.Parents)))
	w.Write(parentCountBuf[:])
	for _, p := range c.Parents {
		w.Write(p[:])
	}

	if len(c.Layers) > 255 {
		return fmt.Errorf("too many graphs: %d", len(c.Layers))
	}
	w.WriteByte(byte(len(c.Layers)))
	for name, layer := range c.Layers {
		if err := writeGraphName(w, string(name)); err != nil {
			return err
		}
		w.Write(layer[:])
	}
	return nil
}

func writeString(w *bytes.Buffer, s string) error {
	if len(s) > int(^uint32(0)) {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	w.Write(lenBuf[:])
	w.WriteString(s)
	return nil
}

func writeGraphName(w *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return fmt.Errorf("graph name too long: %d bytes", len(s))
	}
	w.WriteByte(byte(len(s)))
	w.WriteString(s)
	return nil
}

// DecodeBundle reverses EncodeBundle.
func DecodeBundle(data []byte) (Payload, []repometa.Commit, map[string]repometa.CommitID, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	var gotMagic [5]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, nil, nil, fmt.Errorf("pack: read bundle magic: %w", err)
	}
	if gotMagic != bundleMagic {
		return nil, nil, nil, fmt.Errorf("pack: bad bundle magic prefix")
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, nil, fmt.Errorf("pack: read payload length: %w", err)
	}
	payload := make([]byte, binary.BigEndian.Uint64(lenBuf[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, nil, fmt.Errorf("pack: read payload: %w", err)
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, nil, nil, fmt.Errorf("pack: read commit count: %w", err)
	}
	commitCount := binary.BigEndian.Uint32(countBuf[:])
	commits := make([]repometa.Commit, 0, commitCount)
	for i := uint32(0); i < commitCount; i++ {
		c, err := readCommit(r)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("pack: read commit %d: %w", i, err)
		}
		commits = append(commits, c)
	}

	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, nil, nil, fmt.Errorf("pack: read branch-head count: %w", err)
	}
	branchCount := binary.BigEndian.Uint32(countBuf[:])
	var branchHeads map[string]repometa.CommitID
	if branchCount > 0 {
		branchHeads = make(map[string]repometa.CommitID, branchCount)
		for i := uint32(0); i < branchCount; i++ {
			name, err := readString(r)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("pack: read branch name %d: %w", i, err)
			}
			var id layerhash.Hash
			if _, err := io.ReadFull(r, id[:]); err != nil {
				return nil, nil, nil, fmt.Errorf("pack: read branch head %d: %w", i, err)
			}
			branchHeads[name] = id
		}
	}

	return Payload(payload), commits, branchHeads, nil
}

func readCommit(r *bufio.Reader) (repometa.Commit, error) {
	var c repometa.Commit

	var id layerhash.Hash
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return c, fmt.Errorf("read commit id: %w", err)
	}
	c.ID = id

	author, err := readString(r)
	if err != nil {
		return c, fmt.Errorf("read author: %w", err)
	}
	c.Author = author

	message, err := readString(r)
	if err != nil {
		return c, fmt.Errorf("read message: %w", err)
	}
	c.Message = message

	var tsBuf [8]byte
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return c, fmt.Errorf("read timestamp: %w", err)
	}
	c.Timestamp = int64(binary.BigEndian.Uint64(tsBuf[:]))

	var parentCountBuf [4]byte
	if _, err := io.ReadFull(r, parentCountBuf[:]); err != nil {
		return c, fmt.Errorf("read parent count: %w", err)
	}
	parentCount := binary.BigEndian.Uint32(parentCountBuf[:])
	if parentCount > 0 {
		c.Parents = make([]repometa.CommitID, parentCount)
		for i := uint32(0); i < parentCount; i++ {
			if _, err := io.ReadFull(r, c.Parents[i][:]); err != nil {
				return c, fmt.Errorf("read parent %d: %w", i, err)
			}
		}
	}

	graphCount, err := r.ReadByte()
	if err != nil {
		return c, fmt.Errorf("read graph count: %w", err)
	}
	if graphCount > 0 {
		c.Layers = make(map[repometa.GraphName]layerhash.Hash, graphCount)
		for i := byte(0); i < graphCount; i++ {
			name, err := readGraphName(r)
			if err != nil {
				return c, fmt.Errorf("read graph name %d: %w", i, err)
			}
			var layer layerhash.Hash
			if _, err := io.ReadFull(r, layer[:]); err != nil {
				return c, fmt.Errorf("read graph layer %d: %w", i, err)
			}
			c.Layers[repometa.GraphName(name)] = layer
		}
	}

	return c, nil
}

func readString(r *bufio.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readGraphName(r *bufio.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
