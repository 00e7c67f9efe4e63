package history

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nicferr/anacsync/internal/fsutil"
)

// Attempt is one append-only record in downloads/history.jsonl. Every
// strategy invocation produces exactly one, success or not.
type Attempt struct {
	RunID       string `json:"run_id"`
	ResourceURL string `json:"resource_url"`
	DestPath    string `json:"dest_path"`
	Strategy    string `json:"strategy"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Bytes       int64  `json:"bytes"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
}

type Log struct {
	path string
}

func Open(stateDir string) *Log {
	return &Log{path: filepath.Join(stateDir, "downloads", "history.jsonl")}
}

func (l *Log) Path() string { return l.path }

func (l *Log) Append(a Attempt) error {
	line, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return fsutil.AppendLine(l.path, line)
}

// Tail returns up to n most recent attempts, oldest first.
func (l *Log) Tail(n int) ([]Attempt, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var all []Attempt
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var a Attempt
		if err := json.Unmarshal(line, &a); err != nil {
			continue
		}
		all = append(all, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}
