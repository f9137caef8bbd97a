package store

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/facelens/internal/types"
)

// TimeLayout is how timestamps are written to the log.
const TimeLayout = "2006-01-02 15:04:05"

// Columns is the fixed header of the history log. Order matters.
var Columns = []string{"Time", "Emotion", "EmotionConfidence", "Age", "Gender", "Race"}

// ErrUnreadableLog means the log exists but could not be parsed at all.
var ErrUnreadableLog = errors.New("history log is unreadable")

// LogStore is the append-only CSV history of past analyses.
type LogStore struct {
	path string
	mu   sync.Mutex
}

// NewLogStore returns a store backed by path. The file is created lazily on first Append.
func NewLogStore(path string) *LogStore {
	return &LogStore{path: path}
}

// Path returns the backing file.
func (s *LogStore) Path() string {
	return s.path
}

// Append writes one row per record. The header is written only when the file is new or empty.
func (s *LogStore) Append(records []types.AnalysisRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat history log: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Columns); err != nil {
			return err
		}
	} else {
		// A row left without its line ending would swallow the first new row
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err != nil {
			return fmt.Errorf("read history log: %w", err)
		}
		if last[0] != '\n' {
			if _, err := f.Write([]byte("\n")); err != nil {
				return fmt.Errorf("write history log: %w", err)
			}
		}
	}
	for _, r := range records {
		if err := w.Write(formatRow(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write history log: %w", err)
	}
	return f.Close()
}

// ReadAll returns every well-formed record in file order.
// A missing file is an empty history; malformed rows are skipped.
func (s *LogStore) ReadAll() ([]types.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := []types.AnalysisRecord{}

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableLog, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	header := true
	for scanner.Scan() {
		line := scanner.Text()
		if header {
			header = false
			line = strings.TrimPrefix(line, "\ufeff")
			if fields, err := parseLine(line); err != nil || len(fields) != len(Columns) {
				return nil, fmt.Errorf("%w: unrecognized header %q", ErrUnreadableLog, line)
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := parseLine(line)
		if err != nil {
			continue
		}
		rec, err := parseRow(fields)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableLog, err)
	}
	return records, nil
}

// Reset deletes the log file.
func (s *LogStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// parseLine splits one physical line. Rows never span lines because formatRow strips newlines.
func parseLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	return r.Read()
}

func formatRow(r types.AnalysisRecord) []string {
	age := ""
	if r.Age != nil {
		age = strconv.Itoa(*r.Age)
	}
	return []string{
		r.Time.Local().Format(TimeLayout),
		clean(r.Emotion),
		strconv.FormatFloat(r.EmotionConfidence, 'f', -1, 64),
		age,
		clean(r.Gender),
		clean(r.Race),
	}
}

func parseRow(fields []string) (types.AnalysisRecord, error) {
	var rec types.AnalysisRecord
	if len(fields) != len(Columns) {
		return rec, fmt.Errorf("expected %d fields, got %d", len(Columns), len(fields))
	}

	t, err := time.ParseInLocation(TimeLayout, fields[0], time.Local)
	if err != nil {
		return rec, err
	}
	rec.Time = t
	rec.Emotion = fields[1]

	if fields[2] != "" {
		conf, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return rec, err
		}
		rec.EmotionConfidence = conf
	}
	if fields[3] != "" {
		age, err := strconv.Atoi(fields[3])
		if err != nil {
			return rec, err
		}
		rec.Age = &age
	}
	rec.Gender = fields[4]
	rec.Race = fields[5]
	return rec, nil
}

func clean(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// EmotionCount is one bar of the history summary.
type EmotionCount struct {
	Emotion string `json:"emotion"`
	Count   int    `json:"count"`
}

// Summarize counts records per dominant emotion, most frequent first.
func Summarize(records []types.AnalysisRecord) []EmotionCount {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Emotion]++
	}
	out := make([]EmotionCount, 0, len(counts))
	for e, n := range counts {
		out = append(out, EmotionCount{Emotion: e, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emotion < out[j].Emotion
	})
	return out
}
