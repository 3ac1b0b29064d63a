package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/hexcity/internal/game"
)

// FileStore keeps the snapshot as zstd-compressed JSON at Path.
type FileStore struct {
	Path string
}

func (f *FileStore) Load() (game.Snapshot, error) {
	file, err := os.Open(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return game.Snapshot{}, game.ErrNoSnapshot
	}
	if err != nil {
		return game.Snapshot{}, err
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return game.Snapshot{}, err
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return game.Snapshot{}, fmt.Errorf("zstd decode: %w", err)
	}
	return decodeSnapshot(raw)
}

// Save writes to a temp file and renames it over Path.
func (f *FileStore) Save(snap game.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		file.Close()
		return err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		file.Close()
		return fmt.Errorf("zstd encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		file.Close()
		return fmt.Errorf("zstd encode: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

func (f *FileStore) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
