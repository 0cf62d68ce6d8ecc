package claude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/qstatus/qstatus/internal/blocks"
	"github.com/qstatus/qstatus/internal/estimate"
)

// Transcript lines can carry large embedded tool output.
const maxLineSize = 10 * 1024 * 1024

// usageLine is the subset of a transcript line we care about. Lines without
// message.usage (tool results, progress events) are skipped.
type usageLine struct {
	Timestamp string  `json:"timestamp"`
	SessionID string  `json:"sessionId"`
	RequestID string  `json:"requestId"`
	CWD       string  `json:"cwd"`
	CostUSD   float64 `json:"costUSD"`
	Message   struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage *struct {
			InputTokens         int64 `json:"input_tokens"`
			OutputTokens        int64 `json:"output_tokens"`
			CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
			CacheReadTokens     int64 `json:"cache_read_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// usageEntry is one deduplicated usage record.
type usageEntry struct {
	Time      time.Time
	SessionID string
	CWD       string
	Model     string
	Usage     estimate.TokenUsage
	CostUSD   float64 // as reported; zero when absent
}

// dedupKey builds the identity used to drop re-read lines. Message and
// request IDs when present, otherwise timestamp plus token total.
func (l usageLine) key(u estimate.TokenUsage) string {
	if l.Message.ID != "" || l.RequestID != "" {
		return l.Message.ID + ":" + l.RequestID + ":" + l.Timestamp
	}
	return fmt.Sprintf("%s:%d", l.Timestamp, u.Total())
}

// transcriptFiles walks the project roots and returns every .jsonl path.
func transcriptFiles(roots []string) []string {
	var files []string
	for _, root := range roots {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, keep walking the rest
			}
			if !d.IsDir() && strings.HasSuffix(path, ".jsonl") {
				files = append(files, path)
			}
			return nil
		})
	}
	return files
}

// parseFile extracts usage entries from one transcript. Malformed lines are
// skipped; a transcript that cannot be opened contributes nothing.
func parseFile(path string, seen map[string]struct{}) []usageEntry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var entries []usageEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var l usageLine
		if err := json.Unmarshal(line, &l); err != nil {
			continue
		}
		if l.Message.Usage == nil || l.Timestamp == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, l.Timestamp)
		if err != nil {
			continue
		}
		usage := estimate.TokenUsage{
			InputTokens:         l.Message.Usage.InputTokens,
			OutputTokens:        l.Message.Usage.OutputTokens,
			CacheCreationTokens: l.Message.Usage.CacheCreationTokens,
			CacheReadTokens:     l.Message.Usage.CacheReadTokens,
		}
		key := l.key(usage)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		entries = append(entries, usageEntry{
			Time:      ts,
			SessionID: l.SessionID,
			CWD:       l.CWD,
			Model:     l.Message.Model,
			Usage:     usage,
			CostUSD:   l.CostUSD,
		})
	}
	return entries
}

// loadEntries reads every transcript under roots, deduplicates across files,
// and returns entries sorted by time.
func loadEntries(roots []string) []usageEntry {
	seen := make(map[string]struct{})
	var all []usageEntry
	for _, path := range transcriptFiles(roots) {
		all = append(all, parseFile(path, seen)...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	return all
}

// sessionKey groups entries into logical sessions. Entries without a session
// ID fall back to working directory plus a coarse time bucket, so untagged
// activity in one project still clusters.
func sessionKey(e usageEntry) string {
	if e.SessionID != "" {
		return e.SessionID
	}
	bucket := e.Time.UTC().Truncate(5 * time.Hour).Format(time.RFC3339)
	return e.CWD + "#" + bucket
}

// groupSessions partitions entries by session, newest-activity-first.
func groupSessions(entries []usageEntry) [][]usageEntry {
	grouped := lo.GroupBy(entries, sessionKey)
	sessions := lo.Values(grouped)
	sort.SliceStable(sessions, func(i, j int) bool {
		return lastTime(sessions[i]).After(lastTime(sessions[j]))
	})
	return sessions
}

func lastTime(entries []usageEntry) time.Time {
	return entries[len(entries)-1].Time
}

// blockEntries converts usage entries for block identification, pricing each
// entry so block cost totals are meaningful.
func blockEntries(entries []usageEntry, calc *estimate.CostCalculator, mode estimate.CostMode) []blocks.Entry {
	return lo.Map(entries, func(e usageEntry, _ int) blocks.Entry {
		return blocks.Entry{
			Time:    e.Time,
			Usage:   e.Usage,
			Model:   e.Model,
			CostUSD: calc.Cost(e.Usage, e.Model, mode, e.CostUSD),
		}
	})
}
