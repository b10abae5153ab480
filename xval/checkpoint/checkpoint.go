// Package checkpoint persists one opaque parameter blob per fold.
//
// Writes go to a temp file that is fsynced and renamed into place, so a crash
// never exposes a partial checkpoint. Reads distinguish a missing file (fresh
// start, not an error) from an unreadable or corrupt one.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"strings"

	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/internal/fsutil"
)

// File framing: magic, format version, fold id, payload length, CRC-32 (IEEE)
// of the payload, payload. All integers are big-endian.
var magic = [4]byte{'F', 'R', 'C', 'K'}

const (
	formatVersion uint16 = 1
	headerSize           = 4 + 2 + 4 + 8 + 4
)

// Store saves and loads fold checkpoints under a run root.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, xval.Configf("checkpoint root is required")
	}
	return &Store{root: root}, nil
}

// Path returns the checkpoint file of foldID.
func (s *Store) Path(foldID int) string {
	return xval.CheckpointPath(s.root, foldID)
}

// Save atomically replaces the checkpoint of foldID with state.
func (s *Store) Save(foldID int, state []byte) error {
	if foldID < 0 {
		return fmt.Errorf("fold id must be non-negative, got %d", foldID)
	}
	path := s.Path(foldID)
	if err := fsutil.WriteFileAtomic(path, encode(foldID, state), 0o644); err != nil {
		return fmt.Errorf("saving %s: %w: %w", path, xval.ErrCheckpointIO, err)
	}
	return nil
}

// Load returns the state saved for foldID. found is false, with a nil error,
// when no checkpoint exists. Undecodable content yields ErrCheckpointCorrupt;
// any other read failure yields ErrCheckpointIO.
func (s *Store) Load(foldID int) (state []byte, found bool, err error) {
	path := s.Path(foldID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading %s: %w: %w", path, xval.ErrCheckpointIO, err)
	}
	state, err = decode(foldID, data)
	if err != nil {
		return nil, false, fmt.Errorf("loading %s: %w: %v", path, xval.ErrCheckpointCorrupt, err)
	}
	return state, true, nil
}

func encode(foldID int, state []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(state))
	buf.Write(magic[:])
	_ = binary.Write(&buf, binary.BigEndian, formatVersion)
	_ = binary.Write(&buf, binary.BigEndian, uint32(foldID))
	_ = binary.Write(&buf, binary.BigEndian, uint64(len(state)))
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(state))
	buf.Write(state)
	return buf.Bytes()
}

func decode(foldID int, data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("file is %d bytes, shorter than the %d-byte header", len(data), headerSize)
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("bad magic %q", data[:4])
	}
	if v := binary.BigEndian.Uint16(data[4:6]); v != formatVersion {
		return nil, fmt.Errorf("unsupported format version %d", v)
	}
	if id := binary.BigEndian.Uint32(data[6:10]); int(id) != foldID {
		return nil, fmt.Errorf("checkpoint belongs to fold %d", id)
	}
	n := binary.BigEndian.Uint64(data[10:18])
	payload := data[headerSize:]
	if uint64(len(payload)) != n {
		return nil, fmt.Errorf("payload is %d bytes, header says %d", len(payload), n)
	}
	if sum := crc32.ChecksumIEEE(payload); sum != binary.BigEndian.Uint32(data[18:22]) {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return payload, nil
}
