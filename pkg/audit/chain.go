package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/metrics"
)

// GenesisSeed anchors the chain; the genesis head is its digest
const GenesisSeed = "ZULU_AUDIT_GENESIS_v1"

// DefaultMerkleInterval is the number of records between Merkle checkpoints
const DefaultMerkleInterval = 360

// EventChainReset is appended when a malformed tail forces a fresh chain
const EventChainReset = "CHAIN_RESET"

// GenesisHash returns the chain head before any record exists
func GenesisHash(algo Algo) string {
	return HashHex(algo, []byte(GenesisSeed))
}

// Chain is an append-only, hash-chained JSONL audit log with periodic
// Merkle checkpoints written to a sibling file.
//
// Each line in the log file is:
//
//	{"ts":"2026-02-04T00:41:10.123Z","seq":0,"event":"WORKER_KILLED",
//	 "container":"clawd-runner",...,"prev_hash":"a8f3...","hash":"c91d...",
//	 "algo":"blake3"}
type Chain struct {
	mu             sync.Mutex
	logPath        string
	merklePath     string
	merkleInterval int
	algo           Algo

	prevHash     string
	seq          int64
	windowHashes []string

	logger zerolog.Logger
}

// Option configures a Chain
type Option func(*Chain)

// WithAlgo overrides the hash algorithm
func WithAlgo(algo Algo) Option {
	return func(c *Chain) { c.algo = algo }
}

// WithMerkleInterval overrides the checkpoint interval
func WithMerkleInterval(n int) Option {
	return func(c *Chain) {
		if n > 0 {
			c.merkleInterval = n
		}
	}
}

// WithMerklePath overrides the checkpoint file path
func WithMerklePath(path string) Option {
	return func(c *Chain) { c.merklePath = path }
}

// Open creates or resumes an audit chain backed by logPath
func Open(logPath string, opts ...Option) (*Chain, error) {
	c := &Chain{
		logPath:        logPath,
		merklePath:     defaultMerklePath(logPath),
		merkleInterval: DefaultMerkleInterval,
		algo:           DefaultAlgo,
		logger:         log.WithComponent("audit"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.prevHash = GenesisHash(c.algo)

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	c.resume()
	return c, nil
}

func defaultMerklePath(logPath string) string {
	if strings.HasSuffix(logPath, ".jsonl") {
		return strings.TrimSuffix(logPath, ".jsonl") + "-merkle.jsonl"
	}
	return logPath + ".merkle"
}

// resume loads the last hash and sequence from an existing log file.
// A malformed tail restarts the chain from genesis and records the reset.
func (c *Chain) resume() {
	f, err := os.Open(c.logPath)
	if err != nil {
		return
	}
	defer f.Close()

	var lastLine string
	malformed := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Error().Err(err).Msg("failed to resume audit chain")
		return
	}
	if lastLine == "" {
		return
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lastLine), &record); err != nil {
		malformed = true
	}
	if !malformed {
		if h, ok := record["hash"].(string); ok {
			c.prevHash = h
		}
		if s, ok := record["seq"].(float64); ok {
			c.seq = int64(s) + 1
		}
		c.logger.Info().
			Int64("seq", c.seq).
			Str("prev_hash", truncHash(c.prevHash)).
			Msg("audit chain resumed")
		return
	}

	c.logger.Warn().Msg("last audit line malformed, starting fresh chain")
	c.prevHash = GenesisHash(c.algo)
	c.seq = 0
	c.Append(EventChainReset, map[string]any{
		"reason": "malformed tail on resume",
	})
}

// Append writes a hash-chained record to the audit log and returns the
// complete record. A write failure still advances the in-memory head so the
// chain does not fork.
func (c *Chain) Append(event string, details map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"seq":   c.seq,
		"event": event,
	}
	for k, v := range details {
		record[k] = v
	}
	record["prev_hash"] = c.prevHash

	recordHash, err := hashRecord(c.algo, record)
	if err != nil {
		return nil, err
	}
	record["hash"] = recordHash
	record["algo"] = string(c.algo)

	var writeErr error
	line, err := canonicalJSON(record)
	if err != nil {
		writeErr = err
	} else if err := c.writeLine(c.logPath, line); err != nil {
		writeErr = fmt.Errorf("failed to write audit record: %w", err)
	}
	if writeErr != nil {
		// Still update in-memory state so the chain doesn't fork
		c.logger.Error().Err(writeErr).Msg("CRITICAL: audit record not persisted")
	}

	c.prevHash = recordHash
	c.seq++
	c.windowHashes = append(c.windowHashes, recordHash)
	metrics.AuditRecordsTotal.Inc()

	c.logger.Info().
		Int64("seq", c.seq-1).
		Str("event", event).
		Str("hash", truncHash(recordHash)).
		Msg("audit")

	if len(c.windowHashes) >= c.merkleInterval {
		c.emitMerkleRoot()
	}
	return record, writeErr
}

// emitMerkleRoot computes and persists a Merkle root for the current window.
// Caller holds the lock.
func (c *Chain) emitMerkleRoot() {
	if len(c.windowHashes) == 0 {
		return
	}

	root := MerkleRoot(c.algo, c.windowHashes)
	checkpoint := map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"type":        "merkle_root",
		"event_count": len(c.windowHashes),
		"first_seq":   c.seq - int64(len(c.windowHashes)),
		"last_seq":    c.seq - 1,
		"merkle_root": root,
		"algo":        string(c.algo),
	}

	line, err := canonicalJSON(checkpoint)
	if err == nil {
		err = c.writeLine(c.merklePath, line)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to write merkle root")
	} else {
		c.logger.Info().
			Str("root", truncHash(root)).
			Int("events", len(c.windowHashes)).
			Msg("merkle root emitted")
	}

	c.windowHashes = c.windowHashes[:0]
}

// FlushMerkle forces a Merkle root for whatever is in the current window
func (c *Chain) FlushMerkle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitMerkleRoot()
}

func (c *Chain) writeLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// Head returns the current head of the hash chain
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prevHash
}

// Sequence returns the next sequence number
func (c *Chain) Sequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Verify re-walks the chain from genesis. It returns the first broken
// sequence number, or -1 when the chain is intact.
func (c *Chain) Verify() (bool, int64) {
	c.mu.Lock()
	path, algo := c.logPath, c.algo
	c.mu.Unlock()
	return Verify(path, algo)
}

// Verify checks an audit log file from genesis. Returns whether the chain is
// intact and the first broken sequence number (-1 when intact). A missing
// file is an empty, valid chain.
func Verify(logPath string, algo Algo) (bool, int64) {
	logger := log.WithComponent("audit")

	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, -1
		}
		logger.Error().Err(err).Msg("failed to open audit log")
		return false, 0
	}
	defer f.Close()

	prevHash := GenesisHash(algo)
	lastSeq := int64(-1)
	lineNum := int64(-1)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			logger.Error().Int64("line", lineNum).Msg("malformed JSON")
			return false, lineNum
		}

		storedHash, _ := record["hash"].(string)
		storedPrev, _ := record["prev_hash"].(string)
		recordAlgo := algo
		if a, ok := record["algo"].(string); ok && a != "" {
			recordAlgo = Algo(a)
		}
		delete(record, "hash")
		delete(record, "algo")

		seq := lineNum
		if s, ok := record["seq"].(float64); ok {
			seq = int64(s)
		}

		if storedPrev != prevHash {
			logger.Error().Int64("seq", seq).Msg("prev_hash mismatch")
			return false, seq
		}

		expected, err := hashRecord(recordAlgo, record)
		if err != nil || storedHash != expected {
			logger.Error().Int64("seq", seq).Msg("hash mismatch")
			return false, seq
		}

		prevHash = storedHash
		lastSeq = seq
	}
	if err := scanner.Err(); err != nil {
		logger.Error().Err(err).Msg("failed to read audit log")
		return false, lastSeq + 1
	}

	logger.Info().Int64("records", lastSeq+1).Msg("chain verified")
	return true, -1
}

func truncHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
