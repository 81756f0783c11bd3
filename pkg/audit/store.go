package audit

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// frameHeaderSize is the length prefix (uint32 big-endian) preceding every
// serialized AuditEntry in the data file.
const frameHeaderSize = 4

// Store is the durable, append-only, hash-chained event log (spec §4.A).
// All appends are serialized through a single writer (Append takes an
// internal mutex); readers may call Read/VerifyChain concurrently and are
// guaranteed a prefix-consistent view because entries are only ever
// appended, never rewritten.
type Store struct {
	log *slog.Logger

	mu       sync.Mutex // serializes Append (single writer, §5)
	dataFile *os.File
	idxFile  *os.File

	// offsets[i] is the byte offset of the i-th entry's length-prefixed
	// frame in dataFile (0-indexed; sequence = i+1). Rebuilt on every Open
	// by replaying the data file; the side index file is not read.
	offsets []int64

	headHash string // self_hash of the most recently appended entry
	nextSeq  uint64

	halted bool // set once ErrChainBroken is observed; Append refuses from then on
	closed bool
}

// Open opens (creating if necessary) the audit log rooted at dir. On
// restart it replays the existing data file to rebuild the in-memory
// offset index and verify the chain; a break found during replay leaves
// the store halted, matching the "refuse to continue until operator
// intervention" requirement.
func Open(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}

	dataFile, err := os.OpenFile(filepath.Join(dir, "audit.log"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open data file: %w", err)
	}
	idxFile, err := os.OpenFile(filepath.Join(dir, "audit.idx"), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		_ = dataFile.Close()
		return nil, fmt.Errorf("audit: open index file: %w", err)
	}

	s := &Store{
		log:      log.With("component", "audit"),
		dataFile: dataFile,
		idxFile:  idxFile,
		headHash: GenesisHash,
		nextSeq:  1,
	}

	if err := s.replay(); err != nil {
		_ = dataFile.Close()
		_ = idxFile.Close()
		return nil, err
	}
	return s, nil
}

// replay scans the data file from the start, rebuilding offsets and
// verifying every link. It halts the store (without error — Open still
// succeeds, so the break is inspectable) the first time a link fails.
func (s *Store) replay() error {
	if _, err := s.dataFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("audit: seek data file: %w", err)
	}
	r := bufio.NewReader(s.dataFile)
	var offset int64
	head := GenesisHash
	var seq uint64

	for {
		header := make([]byte, frameHeaderSize)
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("audit: read frame header at offset %d: %w", offset, err)
		}
		length := binary.BigEndian.Uint32(header)
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return fmt.Errorf("audit: read frame body at offset %d: %w", offset, err)
		}

		var entry AuditEntry
		if err := json.Unmarshal(body, &entry); err != nil {
			return fmt.Errorf("audit: decode entry at offset %d: %w", offset, err)
		}

		seq++
		if entry.Sequence != seq || entry.PreviousHash != head {
			s.log.Error("chain broken during replay",
				"sequence", entry.Sequence, "expected_sequence", seq,
				"expected_previous_hash", head, "found_previous_hash", entry.PreviousHash)
			s.halted = true
			break
		}
		ok, err := entry.Verify()
		if err != nil {
			return fmt.Errorf("audit: recompute hash at sequence %d: %w", seq, err)
		}
		if !ok {
			s.log.Error("self_hash mismatch during replay", "sequence", seq)
			s.halted = true
			break
		}

		s.offsets = append(s.offsets, offset)
		offset += int64(frameHeaderSize) + int64(length)
		head = entry.SelfHash
	}

	s.headHash = head
	s.nextSeq = seq + 1
	return nil
}

// Append writes event as the next AuditEntry, fsyncing before it returns.
// If the store is halted (a prior break was detected) or closed, it fails
// immediately without touching disk.
func (s *Store) Append(e Event) (AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return AuditEntry{}, ErrClosed
	}
	if s.halted {
		return AuditEntry{}, ErrHalted
	}

	selfHash, err := computeSelfHash(s.headHash, e)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("audit: hash event: %w", err)
	}

	entry := AuditEntry{
		Sequence:     s.nextSeq,
		Event:        e,
		PreviousHash: s.headHash,
		SelfHash:     selfHash,
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("audit: encode entry: %w", err)
	}

	offset, err := s.dataFile.Seek(0, io.SeekEnd)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("audit: seek end: %w", err)
	}

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := s.dataFile.Write(header); err != nil {
		return AuditEntry{}, fmt.Errorf("audit: write frame header: %w", err)
	}
	if _, err := s.dataFile.Write(body); err != nil {
		return AuditEntry{}, fmt.Errorf("audit: write frame body: %w", err)
	}
	if err := s.dataFile.Sync(); err != nil {
		return AuditEntry{}, fmt.Errorf("audit: fsync: %w", err)
	}

	s.writeIndexRecord(entry.Sequence, offset, uint32(len(body)))

	s.offsets = append(s.offsets, offset)
	s.headHash = entry.SelfHash
	s.nextSeq++
	return entry, nil
}

// indexRecordSize is sequence(8) + offset(8) + length(4).
const indexRecordSize = 20

func (s *Store) writeIndexRecord(seq uint64, offset int64, length uint32) {
	buf := make([]byte, indexRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], seq)
	binary.BigEndian.PutUint64(buf[8:16], uint64(offset))
	binary.BigEndian.PutUint32(buf[16:20], length)
	if _, err := s.idxFile.Write(buf); err != nil {
		s.log.Warn("failed to append side index record", "error", err)
		return
	}
	_ = s.idxFile.Sync()
}

// Range is an inclusive [From, To] sequence range. To of 0 means "through
// the current head".
type Range struct {
	From uint64
	To   uint64
}

// Read returns the entries in r in sequence order.
func (s *Store) Read(r Range) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	to := r.To
	if to == 0 || to > uint64(len(s.offsets)) {
		to = uint64(len(s.offsets))
	}
	if r.From < 1 || r.From > to {
		return nil, ErrSequenceNotFound
	}

	entries := make([]AuditEntry, 0, to-r.From+1)
	for seq := r.From; seq <= to; seq++ {
		offset := s.offsets[seq-1]
		entry, err := s.readAt(offset)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) readAt(offset int64) (AuditEntry, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := s.dataFile.ReadAt(header, offset); err != nil {
		return AuditEntry{}, fmt.Errorf("audit: read frame header at %d: %w", offset, err)
	}
	length := binary.BigEndian.Uint32(header)
	body := make([]byte, length)
	if _, err := s.dataFile.ReadAt(body, offset+frameHeaderSize); err != nil {
		return AuditEntry{}, fmt.Errorf("audit: read frame body at %d: %w", offset, err)
	}
	var entry AuditEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return AuditEntry{}, fmt.Errorf("audit: decode entry at %d: %w", offset, err)
	}
	return entry, nil
}

// VerifyChain recomputes every hash in r and reports the first break, if
// any. A nil ChainBreak with a nil error means the range verified clean.
func (s *Store) VerifyChain(r Range) (*ChainBreak, error) {
	entries, err := s.Read(r)
	if err != nil {
		return nil, err
	}

	prev := GenesisHash
	if r.From > 1 {
		priorRange, err := s.Read(Range{From: r.From - 1, To: r.From - 1})
		if err != nil {
			return nil, err
		}
		prev = priorRange[0].SelfHash
	}

	for _, entry := range entries {
		if entry.PreviousHash != prev {
			return &ChainBreak{Sequence: entry.Sequence, Expected: prev, Found: entry.PreviousHash}, nil
		}
		ok, err := entry.Verify()
		if err != nil {
			return nil, err
		}
		if !ok {
			return &ChainBreak{Sequence: entry.Sequence, Expected: entry.SelfHash, Found: "recomputed-mismatch"}, nil
		}
		prev = entry.SelfHash
	}
	return nil, nil
}

// Halted reports whether the store has stopped accepting appends after a
// chain break, and Halt lets a caller (e.g. a manual-scan CLI command)
// force that state once it independently detects tampering.
func (s *Store) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

func (s *Store) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = true
}

// Head returns the current sequence number and head hash.
func (s *Store) Head() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq - 1, s.headHash
}

// Close flushes and closes the underlying files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err1 := s.dataFile.Close()
	err2 := s.idxFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
