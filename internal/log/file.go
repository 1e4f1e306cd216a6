package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	dayLayout  = "2006-01-02"
	fileSuffix = ".jsonl"
	latestLink = "latest"
)

// FileWriter appends records to one JSONL file per day. Several CLI
// processes may append to the same day's file. Files are 0600 since records
// carry profile IDs and account emails.
type FileWriter struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewFileWriter opens today's file in dir, creating dir if needed.
func NewFileWriter(dir string) (*FileWriter, error) {
	return newFileWriter(dir, time.Now)
}

func newFileWriter(dir string, now func() time.Time) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}
	fw := &FileWriter{dir: dir, now: now}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.openDay(now().Format(dayLayout)); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write appends p to the current day's file, switching files at midnight.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if day := fw.now().Format(dayLayout); day != fw.day || fw.file == nil {
		if err := fw.openDay(day); err != nil {
			return 0, err
		}
	}
	return fw.file.Write(p)
}

// Close closes the current file. Later writes reopen it.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

// openDay must be called with mu held.
func (fw *FileWriter) openDay(day string) error {
	if fw.file != nil {
		_ = fw.file.Close()
		fw.file = nil
	}

	name := day + fileSuffix
	f, err := os.OpenFile(filepath.Join(fw.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening debug log: %w", err)
	}
	fw.file = f
	fw.day = day
	fw.pointLatest(name)
	return nil
}

// pointLatest swaps the "latest" symlink to name. Failures are ignored; the
// link is a convenience for tail -f.
func (fw *FileWriter) pointLatest(name string) {
	link := filepath.Join(fw.dir, latestLink)
	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if os.Symlink(name, tmp) == nil {
		_ = os.Rename(tmp, link)
	}
}

// Cleanup removes daily files older than retentionDays and reports how many
// were removed. Other files in dir are left alone.
func Cleanup(dir string, retentionDays int) int {
	return cleanup(dir, retentionDays, time.Now())
}

func cleanup(dir string, retentionDays int, now time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	removed := 0
	for _, e := range entries {
		day, ok := strings.CutSuffix(e.Name(), fileSuffix)
		if !ok || e.IsDir() {
			continue
		}
		t, err := time.Parse(dayLayout, day)
		if err != nil || !t.Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			removed++
		}
	}
	return removed
}
