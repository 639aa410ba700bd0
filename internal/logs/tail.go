package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const maxLineBytes = 1 << 20

// Chunk is a batch of lines and the byte offset just past them.
type Chunk struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// Filter keeps lines containing every non-empty needle, case-insensitively.
type Filter struct {
	Contains []string
}

func (f Filter) match(line string) bool {
	if len(f.Contains) == 0 {
		return true
	}
	lower := strings.ToLower(line)
	for _, needle := range f.Contains {
		needle = strings.ToLower(strings.TrimSpace(needle))
		if needle != "" && !strings.Contains(lower, needle) {
			return false
		}
	}
	return true
}

// Last returns up to n matching lines from the end of path.
func Last(path string, n int, filter Filter) (Chunk, error) {
	file, size, err := open(path)
	if err != nil || file == nil {
		return Chunk{}, err
	}
	defer file.Close()

	if n <= 0 {
		return Chunk{Offset: size}, nil
	}
	ring := make([]string, n)
	count, idx := 0, 0
	offset, err := scan(file, size, func(line string) {
		if !filter.match(line) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % n
		count = min(count+1, n)
	})
	if err != nil {
		return Chunk{}, err
	}

	lines := make([]string, 0, count)
	start := 0
	if count == n {
		start = idx
	}
	for i := range count {
		lines = append(lines, ring[(start+i)%n])
	}
	return Chunk{Lines: lines, Offset: offset}, nil
}

// From returns matching lines written after offset. An offset past the end
// of the file means the file was replaced, so reading restarts at zero.
func From(path string, offset int64, filter Filter) (Chunk, error) {
	file, size, err := open(path)
	if err != nil || file == nil {
		return Chunk{}, err
	}
	defer file.Close()

	if offset < 0 || offset > size {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Chunk{}, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	read, err := scan(file, size-offset, func(line string) {
		if filter.match(line) {
			lines = append(lines, line)
		}
	})
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{Lines: lines, Offset: offset + read}, nil
}

// Follow calls emit with each batch of new lines after offset, polling every
// interval, until ctx ends or emit returns an error. It returns ctx's error
// on cancellation.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, filter Filter, emit func([]string) error) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		chunk, err := From(path, offset, filter)
		if err != nil {
			return err
		}
		offset = chunk.Offset
		if len(chunk.Lines) > 0 {
			if err := emit(chunk.Lines); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func open(path string) (*os.File, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	return file, info.Size(), nil
}

// scan reads complete lines from r, stopping at limit bytes so a line still
// being written is picked up by the next read. It returns the bytes consumed.
func scan(r io.Reader, limit int64, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(io.LimitReader(r, limit), 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// A trailing fragment without a newline is left for later,
			// unless it is absurdly long.
			if int64(len(line)) >= maxLineBytes {
				consumed += int64(len(line))
				fn(line)
			}
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		fn(strings.TrimRight(line, "\r\n"))
	}
}
