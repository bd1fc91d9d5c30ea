package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuluhq/zulu/pkg/metrics"
)

func newTestChain(t *testing.T, opts ...Option) (*Chain, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	chain, err := Open(path, opts...)
	require.NoError(t, err)
	return chain, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestChainAppendAndVerify(t *testing.T) {
	chain, _ := newTestChain(t)

	_, err := chain.Append("WATCHDOG_STARTED", map[string]any{"interval": 10})
	require.NoError(t, err)
	_, err = chain.Append("KILL_TRIGGERED", map[string]any{
		"container": "clawd-runner",
		"action":    "restart",
	})
	require.NoError(t, err)
	_, err = chain.Append("KILL_COMPLETED", map[string]any{"container": "clawd-runner"})
	require.NoError(t, err)

	assert.Equal(t, int64(3), chain.Sequence())

	ok, broken := chain.Verify()
	assert.True(t, ok)
	assert.Equal(t, int64(-1), broken)
}

func TestChainRecordFields(t *testing.T) {
	chain, path := newTestChain(t)

	record, err := chain.Append("POLICY_RELOADED", map[string]any{"fingerprint": "abcd"})
	require.NoError(t, err)

	assert.Equal(t, int64(0), record["seq"])
	assert.Equal(t, "POLICY_RELOADED", record["event"])
	assert.Equal(t, GenesisHash(DefaultAlgo), record["prev_hash"])
	assert.Equal(t, string(DefaultAlgo), record["algo"])
	assert.NotEmpty(t, record["hash"])
	assert.NotEmpty(t, record["ts"])

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &parsed))
	assert.Equal(t, "abcd", parsed["fingerprint"])
}

func TestChainLinksRecords(t *testing.T) {
	chain, path := newTestChain(t)

	first, err := chain.Append("A", nil)
	require.NoError(t, err)
	second, err := chain.Append("B", nil)
	require.NoError(t, err)

	assert.Equal(t, first["hash"], second["prev_hash"])
	assert.Equal(t, second["hash"], chain.Head())

	lines := readLines(t, path)
	assert.Len(t, lines, 2)
}

func TestVerifyDetectsTampering(t *testing.T) {
	chain, path := newTestChain(t)

	for i := 0; i < 5; i++ {
		_, err := chain.Append("DISPATCH_START", map[string]any{"task_id": i})
		require.NoError(t, err)
	}

	lines := readLines(t, path)
	require.Len(t, lines, 5)

	// Flip a detail field in the middle of the chain
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &record))
	record["task_id"] = 99
	tampered, err := json.Marshal(record)
	require.NoError(t, err)
	lines[2] = string(tampered)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))

	ok, broken := Verify(path, DefaultAlgo)
	assert.False(t, ok)
	assert.Equal(t, int64(2), broken)
}

func TestVerifyDetectsDeletion(t *testing.T) {
	chain, path := newTestChain(t)

	for i := 0; i < 4; i++ {
		_, err := chain.Append("E", map[string]any{"i": i})
		require.NoError(t, err)
	}

	lines := readLines(t, path)
	// Drop seq 1; seq 2's prev_hash no longer matches
	trimmed := append([]string{lines[0]}, lines[2:]...)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(trimmed, "\n")+"\n"), 0644))

	ok, broken := Verify(path, DefaultAlgo)
	assert.False(t, ok)
	assert.Equal(t, int64(2), broken)
}

func TestVerifyMissingFile(t *testing.T) {
	ok, broken := Verify(filepath.Join(t.TempDir(), "missing.jsonl"), DefaultAlgo)
	assert.True(t, ok)
	assert.Equal(t, int64(-1), broken)
}

func TestChainResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	chain, err := Open(path)
	require.NoError(t, err)
	_, err = chain.Append("FIRST", nil)
	require.NoError(t, err)
	_, err = chain.Append("SECOND", nil)
	require.NoError(t, err)
	head := chain.Head()

	resumed, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), resumed.Sequence())
	assert.Equal(t, head, resumed.Head())

	_, err = resumed.Append("THIRD", nil)
	require.NoError(t, err)

	ok, broken := Verify(path, DefaultAlgo)
	assert.True(t, ok)
	assert.Equal(t, int64(-1), broken)
}

func TestChainResumeMalformedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	chain, err := Open(path)
	require.NoError(t, err)
	_, err = chain.Append("FIRST", nil)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	resumed, err := Open(path)
	require.NoError(t, err)

	// Fresh chain: the reset record is seq 0 again
	assert.Equal(t, int64(1), resumed.Sequence())
	assert.Equal(t, GenesisHash(DefaultAlgo), mustLastRecord(t, path)["prev_hash"])
	assert.Equal(t, EventChainReset, mustLastRecord(t, path)["event"])
}

func mustLastRecord(t *testing.T, path string) map[string]any {
	t.Helper()
	lines := readLines(t, path)
	require.NotEmpty(t, lines)
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &record))
	return record
}

func TestMerkleCheckpointInterval(t *testing.T) {
	chain, path := newTestChain(t, WithMerkleInterval(4))

	for i := 0; i < 9; i++ {
		_, err := chain.Append("E", map[string]any{"i": i})
		require.NoError(t, err)
	}

	merklePath := strings.TrimSuffix(path, ".jsonl") + "-merkle.jsonl"
	lines := readLines(t, merklePath)
	require.Len(t, lines, 2)

	var checkpoint map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &checkpoint))
	assert.Equal(t, "merkle_root", checkpoint["type"])
	assert.Equal(t, float64(4), checkpoint["event_count"])
	assert.Equal(t, float64(4), checkpoint["first_seq"])
	assert.Equal(t, float64(7), checkpoint["last_seq"])
	assert.NotEmpty(t, checkpoint["merkle_root"])

	// One record left in the window
	chain.FlushMerkle()
	lines = readLines(t, merklePath)
	require.Len(t, lines, 3)

	var residue map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &residue))
	assert.Equal(t, float64(1), residue["event_count"])
	assert.Equal(t, float64(8), residue["first_seq"])
	assert.Equal(t, float64(8), residue["last_seq"])
}

func TestFlushMerkleEmptyWindow(t *testing.T) {
	chain, path := newTestChain(t)
	chain.FlushMerkle()

	merklePath := strings.TrimSuffix(path, ".jsonl") + "-merkle.jsonl"
	_, err := os.Stat(merklePath)
	assert.True(t, os.IsNotExist(err))
}

func TestSHA256Fallback(t *testing.T) {
	chain, path := newTestChain(t, WithAlgo(AlgoSHA256))

	record, err := chain.Append("E", nil)
	require.NoError(t, err)
	assert.Equal(t, "sha256", record["algo"])

	ok, broken := Verify(path, AlgoSHA256)
	assert.True(t, ok)
	assert.Equal(t, int64(-1), broken)
}

func TestTailReturnsLastRecords(t *testing.T) {
	chain, path := newTestChain(t)
	for i := 0; i < 6; i++ {
		_, err := chain.Append("E", map[string]any{"i": i})
		require.NoError(t, err)
	}

	records, err := Tail(path, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, float64(3), records[0]["seq"])
	assert.Equal(t, float64(5), records[2]["seq"])

	all, err := Tail(path, 100)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestTailMissingFile(t *testing.T) {
	records, err := Tail(filepath.Join(t.TempDir(), "missing.jsonl"), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTailSkipsMalformedLines(t *testing.T) {
	chain, path := newTestChain(t)
	_, err := chain.Append("FIRST", nil)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := Tail(path, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "FIRST", records[0]["event"])
}

func TestCheckpointsReadsMerkleFile(t *testing.T) {
	chain, path := newTestChain(t, WithMerkleInterval(2))
	for i := 0; i < 5; i++ {
		_, err := chain.Append("E", map[string]any{"i": i})
		require.NoError(t, err)
	}

	checkpoints, err := Checkpoints(path)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	assert.Equal(t, "merkle_root", checkpoints[0]["type"])
	assert.NotEmpty(t, checkpoints[1]["merkle_root"])
}

func TestCheckpointsNoneYet(t *testing.T) {
	chain, path := newTestChain(t)
	_, err := chain.Append("E", nil)
	require.NoError(t, err)

	checkpoints, err := Checkpoints(path)
	require.NoError(t, err)
	assert.Empty(t, checkpoints)
}

func TestAppendBumpsRecordCounter(t *testing.T) {
	chain, _ := newTestChain(t)

	before := testutil.ToFloat64(metrics.AuditRecordsTotal)
	_, err := chain.Append("POLICY_RELOADED", nil)
	require.NoError(t, err)
	_, err = chain.Append("KILL_COMPLETED", nil)
	require.NoError(t, err)

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.AuditRecordsTotal))
}
