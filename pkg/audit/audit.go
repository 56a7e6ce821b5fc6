// Package audit implements the engine's append-only, Merkle-backed audit
// log. Every decision the pipeline makes is appended as a canonical JSON
// record; the log exposes inclusion proofs against its current root so a
// relying party can verify a single entry without replaying the whole
// file.
//
// Wire format: each record is written as an 8-byte little-endian length
// prefix followed by that many bytes of RFC 8785 canonical JSON. A
// sidecar file (<path>.root) holds the current root, entry count, and
// hash algorithm, and is updated only after the record itself is synced
// to disk.
package audit

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultguard/sentinel/pkg/canonicalize"
	"github.com/vaultguard/sentinel/pkg/hash"
	"github.com/vaultguard/sentinel/pkg/merkle"
)

var (
	// ErrMalformed indicates a record on disk could not be decoded: a
	// truncated length prefix, a short read, or invalid JSON.
	ErrMalformed = errors.New("audit: malformed log record")
	// ErrOutOfRange indicates a proof or lookup was requested for a
	// sequence number the log does not contain.
	ErrOutOfRange = errors.New("audit: sequence number out of range")
	// ErrIntegrityFail indicates the root sidecar disagrees with the
	// root recomputed from the log file on disk. This is fatal to the
	// audit subsystem: the log refuses to open, and no further writes
	// are accepted until the discrepancy is investigated.
	ErrIntegrityFail = errors.New("audit: sidecar root disagrees with recomputed root")
)

// AuditEntry is one canonical, hashed record in the log.
type AuditEntry struct {
	EntryID    string          `json:"entry_id"`
	SequenceNo uint64          `json:"sequence_no"`
	Timestamp  time.Time       `json:"timestamp"`
	EntryType  string          `json:"entry_type"`
	Subject    string          `json:"subject"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
}

// DecisionReceipt is the durable record of one Decision Pipeline run,
// appended to the audit log as the payload of an AuditEntry with
// EntryType "decision".
type DecisionReceipt struct {
	DecisionID          string    `json:"decision_id"`
	PrincipalID         string    `json:"principal_id"`
	Action              string    `json:"action"`
	Resource            string    `json:"resource"`
	Verdict             string    `json:"verdict"` // allow|monitor|challenge|escalate|deny
	RuleID              string    `json:"rule_id,omitempty"`
	TrustScore          float64   `json:"trust_score"`
	TrustLevel          string    `json:"trust_level"`
	ContextConfidence   float64   `json:"context_confidence"`
	ConsensusConfidence float64   `json:"consensus_confidence"`
	Timestamp           time.Time `json:"timestamp"`
}

// rootSidecar is the JSON structure persisted to <path>.root.
type rootSidecar struct {
	RootHex    string `json:"root_hex"`
	EntryCount uint64 `json:"entry_count"`
	Algorithm  string `json:"algorithm"`
}

// Log is a durable, Merkle-verifiable append-only audit log.
type Log struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	hasher *hash.Hasher
	logger *slog.Logger

	leafData [][]byte // canonical bytes of every entry appended so far
	entries  []AuditEntry
	root     []byte
}

// Open opens (creating if necessary) the audit log at path, replays any
// existing records, recomputes the Merkle root, and reconciles it
// against the sidecar file. Any disagreement between the sidecar and the
// recomputed root — a different root hash or a different entry count —
// is treated as tamper evidence: Open returns ErrIntegrityFail and the
// log is never handed back to the caller, so no further writes are
// possible until the discrepancy is investigated by hand.
func Open(path string, h *hash.Hasher, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}

	l := &Log{
		path:   path,
		file:   f,
		hasher: h,
		logger: logger,
	}

	if err := l.replay(); err != nil {
		f.Close()
		return nil, err
	}

	if err := l.reconcileSidecar(); err != nil {
		f.Close()
		return nil, err
	}

	return l, nil
}

func (l *Log) replay() error {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("audit: seek start: %w", err)
	}
	r := bufio.NewReader(l.file)

	for {
		var lenBuf [8]byte
		_, err := io.ReadFull(r, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: reading length prefix: %v", ErrMalformed, err)
		}
		n := binary.LittleEndian.Uint64(lenBuf[:])

		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%w: reading record body: %v", ErrMalformed, err)
		}

		var entry AuditEntry
		if err := json.Unmarshal(buf, &entry); err != nil {
			return fmt.Errorf("%w: decoding record: %v", ErrMalformed, err)
		}

		l.leafData = append(l.leafData, buf)
		l.entries = append(l.entries, entry)
	}

	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("audit: seek end: %w", err)
	}

	if len(l.leafData) > 0 {
		tree, err := merkle.Build(l.hasher, l.leafData)
		if err != nil {
			return fmt.Errorf("audit: rebuild tree on open: %w", err)
		}
		l.root = tree.Root()
	}

	return nil
}

func (l *Log) sidecarPath() string {
	return l.path + ".root"
}

func (l *Log) reconcileSidecar() error {
	data, err := os.ReadFile(l.sidecarPath())
	if errors.Is(err, os.ErrNotExist) {
		return l.writeSidecar()
	}
	if err != nil {
		return fmt.Errorf("audit: read sidecar: %w", err)
	}

	var side rootSidecar
	if err := json.Unmarshal(data, &side); err != nil {
		l.logger.Error("audit: sidecar root file is malformed", "error", err)
		return fmt.Errorf("%w: malformed sidecar: %v", ErrIntegrityFail, err)
	}

	recomputed := hash.Hex(l.root)
	if side.RootHex != recomputed || side.EntryCount != uint64(len(l.entries)) {
		l.logger.Error("audit: sidecar root disagrees with recomputed root, refusing to open",
			"sidecar_root", side.RootHex, "recomputed_root", recomputed,
			"sidecar_count", side.EntryCount, "recomputed_count", len(l.entries))
		return fmt.Errorf("%w: sidecar root %s (count %d) vs recomputed root %s (count %d)",
			ErrIntegrityFail, side.RootHex, side.EntryCount, recomputed, len(l.entries))
	}

	return nil
}

func (l *Log) writeSidecar() error {
	side := rootSidecar{
		EntryCount: uint64(len(l.entries)),
		Algorithm:  string(l.hasher.Algorithm()),
	}
	if l.root != nil {
		side.RootHex = hash.Hex(l.root)
	}

	data, err := json.Marshal(side)
	if err != nil {
		return fmt.Errorf("audit: marshal sidecar: %w", err)
	}

	tmp := l.sidecarPath() + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("audit: write temp sidecar: %w", err)
	}
	if err := os.Rename(tmp, l.sidecarPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audit: rename sidecar into place: %w", err)
	}
	return nil
}

// Append canonically encodes payload, appends it as a new AuditEntry,
// recomputes the Merkle tree over the full log, and atomically updates
// the root sidecar. The only partially-abortable step in the pipeline is
// this one: if the fsync or rename fails, the in-memory state is rolled
// back and the error is returned to the caller.
func (l *Log) Append(entryType, subject, action string, payload any) (*AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	canonicalPayload, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalize payload: %w", err)
	}

	entry := AuditEntry{
		EntryID:    uuid.NewString(),
		SequenceNo: uint64(len(l.entries)),
		Timestamp:  time.Now().UTC(),
		EntryType:  entryType,
		Subject:    subject,
		Action:     action,
		Payload:    json.RawMessage(canonicalPayload),
	}

	canonicalEntry, err := canonicalize.JCS(entry)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalize entry: %w", err)
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(canonicalEntry)))

	if _, err := l.file.Write(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("audit: write length prefix: %w", err)
	}
	if _, err := l.file.Write(canonicalEntry); err != nil {
		return nil, fmt.Errorf("audit: write record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return nil, fmt.Errorf("audit: fsync: %w", err)
	}

	prevRoot := l.root
	l.leafData = append(l.leafData, canonicalEntry)
	l.entries = append(l.entries, entry)
	rollback := func() {
		l.leafData = l.leafData[:len(l.leafData)-1]
		l.entries = l.entries[:len(l.entries)-1]
		l.root = prevRoot
	}

	tree, err := merkle.Build(l.hasher, l.leafData)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("audit: rebuild tree: %w", err)
	}
	l.root = tree.Root()

	if err := l.writeSidecar(); err != nil {
		rollback()
		return nil, fmt.Errorf("audit: update sidecar: %w", err)
	}

	l.logger.Info("audit entry appended", "entry_id", entry.EntryID, "sequence_no", entry.SequenceNo, "root", hash.Hex(l.root))

	return &entry, nil
}

// CurrentRoot returns the log's current Merkle root, or nil if the log
// is empty.
func (l *Log) CurrentRoot() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

// EntryCount reports how many entries the log currently holds.
func (l *Log) EntryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entry returns the entry at the given zero-based sequence index.
func (l *Log) Entry(index int) (*AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("%w: index %d", ErrOutOfRange, index)
	}
	e := l.entries[index]
	return &e, nil
}

// InclusionProof returns a proof that the entry at index is included in
// the log's current Merkle root.
func (l *Log) InclusionProof(index int) (*merkle.InclusionProof, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.leafData) {
		return nil, fmt.Errorf("%w: index %d", ErrOutOfRange, index)
	}
	return merkle.GenerateProof(l.hasher, l.leafData, index)
}

// VerifyEntry checks that the entry at index is included under the
// log's current root.
func (l *Log) VerifyEntry(index int) (bool, error) {
	proof, err := l.InclusionProof(index)
	if err != nil {
		return false, err
	}
	return merkle.VerifyInclusionProof(l.hasher, proof, l.CurrentRoot()), nil
}

// VerifyFullLog rebuilds the Merkle tree from the log's in-memory copy of
// its entries (those replayed at Open plus those appended since) and
// reports whether it matches the log's currently tracked root. It does not
// re-read the log file.
func (l *Log) VerifyFullLog() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.leafData) == 0 {
		return true, nil
	}
	tree, err := merkle.Build(l.hasher, l.leafData)
	if err != nil {
		return false, fmt.Errorf("audit: rebuild tree: %w", err)
	}
	return hash.Hex(tree.Root()) == hash.Hex(l.root), nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	return l.file.Close()
}

// Dir returns the directory the log file lives in, useful for locating
// the sidecar alongside it in tests and tooling.
func (l *Log) Dir() string {
	return filepath.Dir(l.path)
}
