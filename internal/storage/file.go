// Package storage persists the CRDT change log as a single binary
// document file.
//
// Layout: 4-byte magic "AMRK", one format version byte, then a stream
// of length-prefixed CBOR change records. Writes go to a temporary file
// in the same directory, are flushed, and atomically renamed over the
// canonical path, so the on-disk document is never observed half
// written, even on crash mid-write.
package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/evcraddock/automark/internal/crdt"
)

const (
	magic         = "AMRK"
	formatVersion = 1

	// maxChangeSize bounds a single record so a corrupt length prefix
	// cannot trigger a huge allocation.
	maxChangeSize = 16 << 20
)

// ErrCorruptDocument is returned when the document file exists but its
// header is unreadable. A truncated or damaged tail is not fatal: the
// valid prefix is recovered instead.
var ErrCorruptDocument = errors.New("corrupt document file")

// Save writes the full change log to path atomically. I/O failures are
// retried once before being surfaced.
func Save(path string, changes []*crdt.Change) error {
	err := writeAtomic(path, changes)
	if err != nil {
		err = writeAtomic(path, changes)
	}
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func writeAtomic(path string, changes []*crdt.Change) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		// best effort; gone already on the success path
		_ = os.Remove(tmpPath)
	}()

	w := bufio.NewWriter(tmp)
	if _, err := w.WriteString(magic); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteByte(formatVersion); err != nil {
		tmp.Close()
		return err
	}

	var lenBuf [binary.MaxVarintLen64]byte
	for _, c := range changes {
		blob, err := crdt.EncodeChange(c)
		if err != nil {
			tmp.Close()
			return err
		}
		n := binary.PutUvarint(lenBuf[:], uint64(len(blob)))
		if _, err := w.Write(lenBuf[:n]); err != nil {
			tmp.Close()
			return err
		}
		if _, err := w.Write(blob); err != nil {
			tmp.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Load reads the document file at path. A missing file yields an empty
// change log. A damaged record mid-stream stops the read and returns
// the structurally valid prefix with recovered=true. A bad header
// returns ErrCorruptDocument.
func Load(path string) (changes []*crdt.Change, recovered bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read document: %w", err)
	}

	if len(data) < len(magic)+1 || string(data[:len(magic)]) != magic {
		return nil, false, fmt.Errorf("%w: bad header", ErrCorruptDocument)
	}
	if data[len(magic)] != formatVersion {
		return nil, false, fmt.Errorf("%w: unsupported format version %d",
			ErrCorruptDocument, data[len(magic)])
	}

	r := bytes.NewReader(data[len(magic)+1:])
	for {
		size, err := binary.ReadUvarint(r)
		if err == io.EOF {
			return changes, false, nil
		}
		if err != nil || size > maxChangeSize {
			return changes, true, nil
		}
		blob := make([]byte, size)
		if _, err := io.ReadFull(r, blob); err != nil {
			return changes, true, nil
		}
		c, err := crdt.DecodeChange(blob)
		if err != nil {
			return changes, true, nil
		}
		changes = append(changes, c)
	}
}

// ActorID returns the durable actor id for the replica owning dir,
// creating and persisting a fresh one on first use. The actor id is
// deliberately decoupled from the ephemeral sync peer id: restarting
// the app must not change authorship history.
func ActorID(dir string) (string, error) {
	path := filepath.Join(dir, "actor")
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read actor id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to persist actor id: %w", err)
	}
	return id, nil
}
