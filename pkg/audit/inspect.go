package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
)

// MerklePath returns the checkpoint file that pairs with an audit log
func MerklePath(logPath string) string {
	return defaultMerklePath(logPath)
}

// Tail returns the last n records of an audit log, oldest first. Malformed
// lines are skipped. A missing file is an empty log.
func Tail(logPath string, n int) ([]map[string]any, error) {
	records, err := readRecords(logPath)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

// Checkpoints returns the Merkle checkpoints recorded alongside an audit log.
// A log that never reached a checkpoint has none.
func Checkpoints(logPath string) ([]map[string]any, error) {
	return readRecords(MerklePath(logPath))
}

func readRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
