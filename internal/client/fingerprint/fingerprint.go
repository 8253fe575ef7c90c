// Package fingerprint computes content fingerprints used as dedup keys.
// Digests are lowercase hex MD5, the format the sync service stores as md5Str.
package fingerprint

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/logging"
)

const (
	// FullHashLimit is the largest file hashed in full.
	FullHashLimit int64 = 10 << 20
	// MaxSampleChunk caps each of the three sampled regions.
	MaxSampleChunk int64 = 1 << 20
)

// Hasher fingerprints clipboard payloads.
type Hasher struct {
	log logging.Logger
}

func New(log logging.Logger) *Hasher {
	if log == nil {
		log = logging.Nop()
	}
	return &Hasher{log: log}
}

// Text hashes trimmed UTF-8 text.
func (h *Hasher) Text(s string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(s)))
	return hex.EncodeToString(sum[:])
}

// Bytes hashes raw bytes.
func (h *Hasher) Bytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// File hashes a single file. Files above FullHashLimit are sampled: the head,
// a chunk centred on the midpoint and the tail, followed by the size.
func (h *Hasher) File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", common.Wrap(common.KindIo, "fingerprint file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", common.Wrap(common.KindIo, "fingerprint file", err)
	}
	if info.IsDir() {
		return "", common.Wrap(common.KindIo, "fingerprint file", fmt.Errorf("%s is a directory", path))
	}

	d := md5.New()
	if info.Size() <= FullHashLimit {
		if _, err := io.Copy(d, f); err != nil {
			return "", common.Wrap(common.KindIo, "fingerprint file", err)
		}
		return hex.EncodeToString(d.Sum(nil)), nil
	}

	if err := sample(d, f, info.Size()); err != nil {
		return "", common.Wrap(common.KindIo, "fingerprint file", err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

func sample(d hash.Hash, r io.ReaderAt, size int64) error {
	chunk := min(MaxSampleChunk, size/3)
	offsets := []int64{0, size/2 - chunk/2, size - chunk}
	buf := make([]byte, chunk)
	for _, off := range offsets {
		if _, err := r.ReadAt(buf, off); err != nil && err != io.EOF {
			return err
		}
		d.Write(buf)
	}
	var sz [8]byte
	binary.LittleEndian.PutUint64(sz[:], uint64(size))
	d.Write(sz[:])
	return nil
}

// Files hashes a set of files independent of their directories: entries are
// ordered by base name and each contributes its name and its own fingerprint.
// If any file cannot be read the digest covers the sorted names only.
func (h *Hasher) Files(ctx context.Context, paths []string) string {
	sorted := append([]string(nil), paths...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})

	d := md5.New()
	for _, p := range sorted {
		fp, err := h.File(p)
		if err != nil {
			h.log.Warn(ctx, "multi-file fingerprint degraded to names", "path", p, "error", err)
			return h.names(sorted)
		}
		io.WriteString(d, filepath.Base(p))
		io.WriteString(d, fp)
	}
	return hex.EncodeToString(d.Sum(nil))
}

func (h *Hasher) names(sorted []string) string {
	d := md5.New()
	for _, p := range sorted {
		io.WriteString(d, filepath.Base(p))
	}
	return hex.EncodeToString(d.Sum(nil))
}
