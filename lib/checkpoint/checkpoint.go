// Package checkpoint persists the progress of a taint trace as two append-only text logs in
// <root>/<sourceHex>-<startBlock>/:
//
//	tainted   first line "sourceHex|startBlock", then one "addressHex|fromBlock" per tainted address
//	traced    one "addressHex" per fully traced address
//
// The logs are the authoritative record of a run. Replay rebuilds the in-memory sets after an interruption.
package checkpoint

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultRoot is the directory checkpoints live under when none is configured.
const DefaultRoot = "trace"

const (
	taintedFile = "tainted"
	tracedFile  = "traced"
	sep         = "|"
)

// Errors returned by Replay.
var (
	ErrNoHeader  = errors.New("tainted log has no header")
	ErrBadHeader = errors.New("tainted log header does not match checkpoint")
	ErrBadLine   = errors.New("malformed checkpoint line")
)

// Entry is one tainted log line.
type Entry struct {
	Address string
	Block   uint64
}

// Log is the parsed content of both logs, in file order and without the header.
type Log struct {
	Tainted []Entry
	Traced  []string
}

// Store is the checkpoint of one (source, start block) trace. A Store is owned by a single traversal at a time.
type Store struct {
	dir        string
	source     string
	startBlock uint64
}

// New returns the checkpoint for sourceHex starting at startBlock under root. Nothing is touched on disk.
func New(root, sourceHex string, startBlock uint64) *Store {
	if root == "" {
		root = DefaultRoot
	}
	return &Store{
		dir:        filepath.Join(root, sourceHex+"-"+strconv.FormatUint(startBlock, 10)),
		source:     sourceHex,
		startBlock: startBlock,
	}
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) taintedPath() string { return filepath.Join(s.dir, taintedFile) }
func (s *Store) tracedPath() string  { return filepath.Join(s.dir, tracedFile) }

func (s *Store) header() string {
	return taintedLine(s.source, s.startBlock)
}

func taintedLine(addr string, block uint64) string {
	return addr + sep + strconv.FormatUint(block, 10)
}

// Exists reports whether the checkpoint holds a tainted log. A directory left without one by an interrupted
// Initialize counts as absent.
func (s *Store) Exists() (bool, error) {
	fi, err := os.Stat(s.taintedPath())
	if err == nil {
		if fi.IsDir() {
			return false, errors.Errorf("checkpoint path %s is a directory", s.taintedPath())
		}
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "stat checkpoint")
}

// Initialize creates the directory, a tainted log holding only the header and an empty traced log.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint dir")
	}
	if err := os.WriteFile(s.tracedPath(), nil, 0o644); err != nil {
		return errors.Wrap(err, "create traced log")
	}
	// tainted last: its presence marks the checkpoint as existing
	return errors.Wrap(os.WriteFile(s.taintedPath(), []byte(s.header()+"\n"), 0o644), "write tainted header")
}

// AppendTainted records addr as tainted since block.
func (s *Store) AppendTainted(addr string, block uint64) error {
	return errors.Wrap(appendLine(s.taintedPath(), taintedLine(addr, block)), "append tainted")
}

// AppendTraced records addr as traced.
func (s *Store) AppendTraced(addr string) error {
	return errors.Wrap(appendLine(s.tracedPath(), addr), "append traced")
}

// DeleteTaintedLine removes every "addr|block" line from the tainted log. The header is kept even when it matches.
func (s *Store) DeleteTaintedLine(addr string, block uint64) error {
	return errors.Wrap(deleteLines(s.taintedPath(), taintedLine(addr, block), 1), "delete tainted")
}

// DeleteTracedLine removes every addr line from the traced log.
func (s *Store) DeleteTracedLine(addr string) error {
	return errors.Wrap(deleteLines(s.tracedPath(), addr, 0), "delete traced")
}

// Replay reads both logs. The header must match the store's source and start block.
func (s *Store) Replay() (*Log, error) {
	tainted, err := readLines(s.taintedPath())
	if err != nil {
		return nil, errors.Wrap(err, "read tainted")
	}
	if len(tainted) == 0 {
		return nil, ErrNoHeader
	}
	if tainted[0] != s.header() {
		return nil, errors.Wrapf(ErrBadHeader, "got %q, want %q", tainted[0], s.header())
	}

	l := &Log{}
	for _, line := range tainted[1:] {
		e, err := parseTainted(line)
		if err != nil {
			return nil, err
		}
		l.Tainted = append(l.Tainted, e)
	}

	traced, err := readLines(s.tracedPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read traced")
	}
	l.Traced = traced
	return l, nil
}

func parseTainted(line string) (Entry, error) {
	i := strings.LastIndex(line, sep)
	if i <= 0 {
		return Entry{}, errors.Wrapf(ErrBadLine, "%q", line)
	}
	n, err := strconv.ParseUint(line[i+1:], 10, 64)
	if err != nil {
		return Entry{}, errors.Wrapf(ErrBadLine, "%q", line)
	}
	return Entry{Address: line[:i], Block: n}, nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	if _, err = f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readLines returns the non-empty lines of path.
func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

// deleteLines rewrites path without the lines equal to target, leaving the first keep lines alone. The new content
// replaces the old one with a rename so a crash never leaves a truncated log.
func deleteLines(path, target string, keep int) error {
	lines, err := readLines(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for i, line := range lines {
		if i >= keep && line == target {
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
