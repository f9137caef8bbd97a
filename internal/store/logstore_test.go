package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facelens/internal/types"
)

func intPtr(n int) *int { return &n }

func sampleRecords(n int) []types.AnalysisRecord {
	base := time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)
	emotions := []string{"happy", "sad", "neutral", "angry"}
	out := make([]types.AnalysisRecord, n)
	for i := range out {
		out[i] = types.AnalysisRecord{
			Time:              base.Add(time.Duration(i) * time.Second),
			Emotion:           emotions[i%len(emotions)],
			EmotionConfidence: 50 + float64(i)/4,
		}
	}
	return out
}

func TestAppendThenReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "face_analysis_log.csv")
	s := NewLogStore(path)

	first := sampleRecords(3)
	first[1].Age = intPtr(29)
	first[1].Gender = "Woman"
	first[1].Race = "asian"

	if err := s.Append(first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	second := sampleRecords(2)
	if err := s.Append(second); err != nil {
		t.Fatalf("Second append failed: %v", err)
	}

	got, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	want := append(first, second...)
	if len(got) != len(want) {
		t.Fatalf("Expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Time.Equal(want[i].Time) || got[i].Emotion != want[i].Emotion || got[i].EmotionConfidence != want[i].EmotionConfidence {
			t.Errorf("Record %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	if got[1].Age == nil || *got[1].Age != 29 || got[1].Gender != "Woman" || got[1].Race != "asian" {
		t.Errorf("Extended attributes lost: %+v", got[1])
	}

	// Header exactly once, and every row has all six columns
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "Time,Emotion,EmotionConfidence,Age,Gender,Race" {
		t.Errorf("Unexpected header %q", lines[0])
	}
	if strings.Count(string(data), "Time,Emotion") != 1 {
		t.Error("Header written more than once")
	}
	for _, l := range lines[1:] {
		if strings.Count(l, ",") != 5 {
			t.Errorf("Row lost column alignment: %q", l)
		}
	}
}

func TestEmotionOnlyRecordKeepsEmptyColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	s := NewLogStore(path)

	if err := s.Append(sampleRecords(1)); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	row := strings.Split(strings.TrimSpace(string(data)), "\n")[1]
	if !strings.HasSuffix(row, ",50,,,") {
		t.Errorf("Expected empty age/gender/race cells, got %q", row)
	}

	got, _ := s.ReadAll()
	if got[0].Age != nil || got[0].Gender != "" || got[0].Race != "" {
		t.Errorf("Expected empty extended attributes, got %+v", got[0])
	}
}

func TestReadAllSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	content := strings.Join([]string{
		"Time,Emotion,EmotionConfidence,Age,Gender,Race",
		"2025-01-01 10:00:00,happy,91.5,,,",
		"2025-01-01 10:00:01,sad,40,,,,extra",       // too many fields
		"2025-01-01 10:00:02,sad",                    // too few fields
		"yesterday,angry,12,,,",                      // bad time
		"2025-01-01 10:00:03,fear,lots,,,",           // bad confidence
		"2025-01-01 10:00:04,neutral,10,old,,",       // bad age
		`2025-01-01 10:00:05,"broken,10,,,`,          // bad quoting
		"",                                           // blank line
		"2025-01-01 10:00:06,surprise,77.25,40,Man,white",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := NewLogStore(path).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll should not fail on bad rows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 well-formed records, got %d: %+v", len(got), got)
	}
	if got[0].Emotion != "happy" || got[1].Emotion != "surprise" || *got[1].Age != 40 {
		t.Errorf("Unexpected records %+v", got)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	got, err := NewLogStore(filepath.Join(t.TempDir(), "nope.csv")).ReadAll()
	if err != nil {
		t.Fatalf("Expected no error for missing file, got %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", got)
	}
}

func TestReadAllUnreadable(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path func() string
	}{
		{"directory", func() string { return dir }},
		{"bad header", func() string {
			p := filepath.Join(dir, "bad.csv")
			os.WriteFile(p, []byte("just one column\n2025-01-01 10:00:00,happy,1,,,\n"), 0644)
			return p
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogStore(tt.path()).ReadAll()
			if !errors.Is(err, ErrUnreadableLog) {
				t.Errorf("Expected ErrUnreadableLog, got %v", err)
			}
		})
	}
}

func TestAppendToEmptyFileWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	os.WriteFile(path, nil, 0644)

	s := NewLogStore(path)
	if err := s.Append(sampleRecords(1)); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadAll()
	if err != nil || len(got) != 1 {
		t.Errorf("Expected 1 record, got %d (%v)", len(got), err)
	}
}

func TestAppendAfterTruncatedLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	os.WriteFile(path, []byte("Time,Emotion,EmotionConfidence,Age,Gender,Race\n2025-01-01 10:00:00,happy,91.5,,,"), 0644)

	s := NewLogStore(path)
	recs := sampleRecords(2)
	if err := s.Append(recs[1:]); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Emotion != "happy" || got[1].Emotion != "sad" {
		t.Errorf("Expected the existing row and the new one, got %+v", got)
	}
}

func TestAppendSanitizesNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	s := NewLogStore(path)

	recs := sampleRecords(1)
	recs[0].Gender = "Wo\nman"
	recs[0].Race = "latino, hispanic"
	if err := s.Append(recs); err != nil {
		t.Fatal(err)
	}

	got, _ := s.ReadAll()
	if len(got) != 1 || got[0].Gender != "Wo man" || got[0].Race != "latino, hispanic" {
		t.Errorf("Unexpected round trip %+v", got)
	}
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	h := NewHistory(NewLogStore(path), nil, nil)

	if err := h.Append(context.Background(), sampleRecords(2)); err != nil {
		t.Fatal(err)
	}
	if err := h.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected log file to be removed")
	}
	// Resetting twice is fine
	if err := h.Reset(context.Background()); err != nil {
		t.Errorf("Second reset failed: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	recs := sampleRecords(6) // happy, sad, neutral, angry, happy, sad
	got := Summarize(recs)

	want := []EmotionCount{{"happy", 2}, {"sad", 2}, {"angry", 1}, {"neutral", 1}}
	if len(got) != len(want) {
		t.Fatalf("Expected %d buckets, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Bucket %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}
