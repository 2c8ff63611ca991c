package audit

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// fileStore implements Store with append-only files in one directory:
//
//	journal.dat  entries: idx(8) ts(8) len(4) data(len) tagA(32) tagG(32)
//	anchors.idx  anchors: idx(8) key(32) tagA(32) tagG(32)
//	tail.dat     tail:    idx(8) tagA(32) tagG(32)
//
// The last index is scanned once at open and then tracked in memory.
type fileStore struct {
	dir        string
	mu         sync.RWMutex
	logFile    *os.File
	anchorFile *os.File
	tailFile   *os.File
	lastIdx    uint64
}

const (
	journalFileName = "journal.dat"
	anchorsFileName = "anchors.idx"
	tailFileName    = "tail.dat"
	headerSize      = 8 + 8 + 4
	tagsSize        = 32 + 32
	anchorEntrySize = 8 + KeySize + 32 + 32
	tailEntrySize   = 8 + 32 + 32

	// maxEntrySize bounds the data of a single entry.
	maxEntrySize = 16 << 20
)

// OpenFileStore creates or opens a file-backed store in dir.
func OpenFileStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	s := &fileStore{dir: dir}
	var err error
	if s.logFile, err = os.OpenFile(filepath.Join(dir, journalFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600); err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	if s.anchorFile, err = os.OpenFile(filepath.Join(dir, anchorsFileName), os.O_RDWR|os.O_CREATE, 0o600); err != nil {
		_ = s.logFile.Close()
		return nil, fmt.Errorf("open anchor file: %w", err)
	}
	if s.tailFile, err = os.OpenFile(filepath.Join(dir, tailFileName), os.O_RDWR|os.O_CREATE, 0o600); err != nil {
		_ = s.logFile.Close()
		_ = s.anchorFile.Close()
		return nil, fmt.Errorf("open tail file: %w", err)
	}
	if s.lastIdx, err = scanLastIndex(filepath.Join(dir, journalFileName)); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func scanLastIndex(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var last uint64
	for {
		e, err := readEntry(r)
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if err != nil {
			return 0, fmt.Errorf("scan journal: %w", err)
		}
		last = e.Index
	}
}

// readEntry decodes one entry. It returns io.EOF only at a clean boundary.
func readEntry(r io.Reader) (Entry, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Entry{}, err
	}
	e := Entry{
		Index: binary.BigEndian.Uint64(hdr[0:8]),
		TS:    int64(binary.BigEndian.Uint64(hdr[8:16])),
	}
	n := binary.BigEndian.Uint32(hdr[16:20])
	if n > maxEntrySize {
		return Entry{}, fmt.Errorf("%w: entry %d claims %d data bytes", ErrMalformed, e.Index, n)
	}
	body := make([]byte, int(n)+tagsSize)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Entry{}, err
	}
	e.Data = body[:n]
	copy(e.TagA[:], body[n:n+32])
	copy(e.TagG[:], body[n+32:])
	return e, nil
}

// Append writes the entry, then the anchor and the tail, syncing each file.
// A failed append leaves the journal and anchor files as they were.
func (s *fileStore) Append(e Entry, tail Tail, anchor *Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastIdx != e.Index-1 {
		return fmt.Errorf("non-contiguous append: have %d, got %d", s.lastIdx, e.Index)
	}
	if len(e.Data) > maxEntrySize {
		return fmt.Errorf("entry %d: %d data bytes exceeds %d", e.Index, len(e.Data), maxEntrySize)
	}
	if err := syscall.Flock(int(s.logFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock journal file: %w", err)
	}
	defer syscall.Flock(int(s.logFile.Fd()), syscall.LOCK_UN)

	logSize, err := fileSize(s.logFile)
	if err != nil {
		return err
	}
	anchorSize, err := fileSize(s.anchorFile)
	if err != nil {
		return err
	}

	buf := make([]byte, headerSize+len(e.Data)+tagsSize)
	binary.BigEndian.PutUint64(buf[0:8], e.Index)
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.TS))
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(e.Data)))
	off := headerSize + copy(buf[headerSize:], e.Data)
	copy(buf[off:], e.TagA[:])
	copy(buf[off+32:], e.TagG[:])

	err = s.appendLocked(buf, tail, anchor)
	if err != nil {
		if terr := s.logFile.Truncate(logSize); terr != nil {
			err = errors.Join(err, fmt.Errorf("roll back journal file: %w", terr))
		}
		if terr := s.anchorFile.Truncate(anchorSize); terr != nil {
			err = errors.Join(err, fmt.Errorf("roll back anchor file: %w", terr))
		}
		return err
	}
	s.lastIdx = e.Index
	return nil
}

func (s *fileStore) appendLocked(buf []byte, tail Tail, anchor *Anchor) error {
	if _, err := s.logFile.Write(buf); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := s.logFile.Sync(); err != nil {
		return fmt.Errorf("sync journal file: %w", err)
	}
	if anchor != nil {
		if err := s.writeAnchorLocked(*anchor); err != nil {
			return err
		}
	}
	return s.writeTailLocked(tail)
}

func fileSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", filepath.Base(f.Name()), err)
	}
	return fi.Size(), nil
}

func (s *fileStore) writeAnchorLocked(a Anchor) error {
	buf := make([]byte, anchorEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], a.Index)
	copy(buf[8:40], a.Key[:])
	copy(buf[40:72], a.TagA[:])
	copy(buf[72:104], a.TagG[:])
	if _, err := s.anchorFile.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek anchor file: %w", err)
	}
	if _, err := s.anchorFile.Write(buf); err != nil {
		return fmt.Errorf("write anchor: %w", err)
	}
	if err := s.anchorFile.Sync(); err != nil {
		return fmt.Errorf("sync anchor file: %w", err)
	}
	return nil
}

func (s *fileStore) writeTailLocked(t Tail) error {
	buf := make([]byte, tailEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], t.Index)
	copy(buf[8:40], t.TagA[:])
	copy(buf[40:72], t.TagG[:])
	if _, err := s.tailFile.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write tail: %w", err)
	}
	if err := s.tailFile.Sync(); err != nil {
		return fmt.Errorf("sync tail file: %w", err)
	}
	return nil
}

// Iter streams entries with index >= startIdx from a separate read handle.
func (s *fileStore) Iter(startIdx uint64) (<-chan Entry, func() error, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, err := os.Open(filepath.Join(s.dir, journalFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("open journal for reading: %w", err)
	}
	out := make(chan Entry, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer f.Close()
		r := bufio.NewReader(f)
		for {
			e, err := readEntry(r)
			if err != nil {
				return
			}
			if e.Index < startIdx {
				continue
			}
			select {
			case out <- e:
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return out, func() error { once.Do(func() { close(done) }); return nil }, nil
}

func (s *fileStore) readAnchorsLocked() ([]Anchor, error) {
	if _, err := s.anchorFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek anchor file: %w", err)
	}
	r := bufio.NewReader(s.anchorFile)
	var out []Anchor
	buf := make([]byte, anchorEntrySize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("read anchor: %w", err)
		}
		var a Anchor
		a.Index = binary.BigEndian.Uint64(buf[0:8])
		copy(a.Key[:], buf[8:40])
		copy(a.TagA[:], buf[40:72])
		copy(a.TagG[:], buf[72:104])
		out = append(out, a)
	}
}

// The anchor file offset is shared, so anchor reads take the write lock.
func (s *fileStore) AnchorAt(i uint64) (Anchor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	anchors, err := s.readAnchorsLocked()
	if err != nil {
		return Anchor{}, false, err
	}
	for _, a := range anchors {
		if a.Index == i {
			return a, true, nil
		}
	}
	return Anchor{}, false, nil
}

func (s *fileStore) ListAnchors() ([]Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAnchorsLocked()
}

func (s *fileStore) Tail() (Tail, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t Tail
	buf := make([]byte, tailEntrySize)
	if _, err := s.tailFile.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return t, false, nil
		}
		return t, false, fmt.Errorf("read tail: %w", err)
	}
	t.Index = binary.BigEndian.Uint64(buf[0:8])
	copy(t.TagA[:], buf[8:40])
	copy(t.TagG[:], buf[40:72])
	return t, true, nil
}

// Close closes all three files.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, f := range []*os.File{s.logFile, s.anchorFile, s.tailFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
