package searchindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/filex"
)

// File layout, big endian:
//
//	magic "CKIX" | format uint32 | version uint64 | count uint32
//	count × { uvarint len, id | uvarint len, content | uvarint len, bloom }
var magic = [4]byte{'C', 'K', 'I', 'X'}

const formatVersion uint32 = 1

var errBadFormat = errors.New("bad search index file")

func (ix *Index) save() error {
	if ix.opts.Path == "" {
		return nil
	}
	ix.persistMu.Lock()
	defer ix.persistMu.Unlock()

	if !ix.dirty.Swap(false) {
		return nil
	}
	data, err := ix.encode()
	if err == nil {
		err = filex.WriteFileAtomic(ix.opts.Path, data, 0o600)
	}
	if err != nil {
		ix.dirty.Store(true)
		return common.Wrap(common.KindIo, "save search index", err)
	}
	return nil
}

func (ix *Index) encode() ([]byte, error) {
	items := ix.entries.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	buf.Write(magic[:])
	binary.Write(&buf, binary.BigEndian, formatVersion)
	binary.Write(&buf, binary.BigEndian, ix.version.Load())
	binary.Write(&buf, binary.BigEndian, uint32(len(ids)))

	var filter bytes.Buffer
	for _, id := range ids {
		e := items[id]
		filter.Reset()
		if _, err := e.filter.WriteTo(&filter); err != nil {
			return nil, err
		}
		writeBytes(&buf, []byte(id))
		writeBytes(&buf, []byte(e.content))
		writeBytes(&buf, filter.Bytes())
	}
	return buf.Bytes(), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var n [binary.MaxVarintLen64]byte
	buf.Write(n[:binary.PutUvarint(n[:], uint64(len(b)))])
	buf.Write(b)
}

func readBytes(r *bufio.Reader, limit uint64) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, errBadFormat
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (ix *Index) load() error {
	f, err := os.Open(ix.opts.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	limit := uint64(info.Size())
	r := bufio.NewReader(f)

	var (
		m       [4]byte
		format  uint32
		version uint64
		count   uint32
	)
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return fmt.Errorf("%w: %v", errBadFormat, err)
	}
	if m != magic {
		return errBadFormat
	}
	if err := binary.Read(r, binary.BigEndian, &format); err != nil {
		return fmt.Errorf("%w: %v", errBadFormat, err)
	}
	if format != formatVersion {
		return fmt.Errorf("%w: unsupported format %d", errBadFormat, format)
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return fmt.Errorf("%w: %v", errBadFormat, err)
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("%w: %v", errBadFormat, err)
	}

	loaded := make(map[string]*entry, min(int(count), 1<<16))
	for i := uint32(0); i < count; i++ {
		id, err := readBytes(r, limit)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", errBadFormat, i, err)
		}
		content, err := readBytes(r, limit)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", errBadFormat, i, err)
		}
		raw, err := readBytes(r, limit)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", errBadFormat, i, err)
		}
		filter := &bloom.BloomFilter{}
		if _, err := filter.ReadFrom(bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("%w: entry %d filter: %v", errBadFormat, i, err)
		}
		loaded[string(id)] = &entry{content: string(content), filter: filter}
	}

	ix.entries.MSet(loaded)
	ix.version.Store(version)
	return nil
}
