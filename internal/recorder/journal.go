// Package recorder attaches read-only to a running browser over CDP and
// journals page lifecycle, console, and network activity as JSONL. It never
// navigates, reloads, or otherwise changes page state.
package recorder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Journal asynchronously writes JSON lines for one event stream. Records
// land in date-organized files (dataDir/2006-01-02/pages.jsonl) rotated by
// size.
type Journal struct {
	baseDir     string
	stream      string
	maxSizeMB   int
	writeCh     chan any
	done        chan struct{}
	wg          sync.WaitGroup
	currentDate string
	logger      *lumberjack.Logger
	mu          sync.Mutex
}

// NewJournal creates an async journal for the named stream.
func NewJournal(baseDir, stream string, bufferSize, maxSizeMB int) *Journal {
	j := &Journal{
		baseDir:   baseDir,
		stream:    stream,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}

	j.wg.Add(1)
	go j.writeLoop()

	return j
}

// Write queues a record. A full buffer drops the record rather than block
// the CDP event handler.
func (j *Journal) Write(record any) error {
	select {
	case <-j.done:
		return fmt.Errorf("journal is closed")
	default:
	}

	select {
	case j.writeCh <- record:
		return nil
	default:
		slog.Warn("journal buffer full, dropping record", "stream", j.stream)
		return fmt.Errorf("buffer full")
	}
}

// Close shuts down the journal and flushes pending records.
func (j *Journal) Close() error {
	close(j.done)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case record := <-j.writeCh:
			j.writeRecord(record)
		case <-timeout:
			slog.Warn("journal close timeout, some records may be lost", "stream", j.stream)
			goto done
		default:
			goto done
		}
	}

done:
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		return j.logger.Close()
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case record := <-j.writeCh:
			j.writeRecord(record)
		case <-j.done:
			return
		}
	}
}

func (j *Journal) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to marshal journal record", "stream", j.stream, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	currentDate := time.Now().UTC().Format("2006-01-02")
	if currentDate != j.currentDate || j.logger == nil {
		j.rotateForDate(currentDate)
	}
	if j.logger == nil {
		return
	}

	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("failed to write journal record", "stream", j.stream, "error", err)
	}
}

func (j *Journal) rotateForDate(date string) {
	if j.logger != nil {
		j.logger.Close()
		j.logger = nil
	}

	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("failed to create journal directory", "dir", dir, "error", err)
		return
	}

	filename := filepath.Join(dir, j.stream+".jsonl")
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}

	j.currentDate = date
	slog.Info("opened journal file", "file", filename, "stream", j.stream)
}

// Journals bundles the per-stream writers of one recording session.
type Journals struct {
	Pages   *Journal
	Console *Journal
	Network *Journal
}

// NewJournals opens the three event streams under dataDir.
func NewJournals(dataDir string, bufferSize, maxSizeMB int) *Journals {
	return &Journals{
		Pages:   NewJournal(dataDir, "pages", bufferSize, maxSizeMB),
		Console: NewJournal(dataDir, "console", bufferSize, maxSizeMB),
		Network: NewJournal(dataDir, "network", bufferSize, maxSizeMB),
	}
}

// Close closes all streams and returns the last error seen.
func (j *Journals) Close() error {
	var lastErr error
	for _, journal := range []*Journal{j.Pages, j.Console, j.Network} {
		if err := journal.Close(); err != nil {
			slog.Error("failed to close journal", "stream", journal.stream, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
