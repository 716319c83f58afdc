// Package logging owns the module's shared log output. Components obtain
// prefixed loggers through Component; by default everything goes to stdout,
// and once the embedder calls Init the output is duplicated into a log file
// that ReadTail and Clear operate on. Component loggers created before Init
// follow the switch automatically.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/termbridge/termbridge/config"
)

var (
	logFile *os.File
	mu      sync.Mutex
)

func logPath() string {
	if p := config.Cfg.LogPath; p != "" {
		return p
	}
	return "/app/data/termbridge.log"
}

// sharedWriter defers to whatever output the process logger currently has,
// so component loggers pick up Init without being rebuilt.
type sharedWriter struct{}

func (sharedWriter) Write(p []byte) (int, error) {
	return log.Writer().Write(p)
}

// Component returns a logger carrying a bracketed component prefix that
// writes through the shared output.
func Component(name string) *log.Logger {
	return log.New(sharedWriter{}, "["+name+"] ", log.LstdFlags)
}

// Init duplicates the shared output into the configured log file.
// Must be called after config.Load().
func Init() {
	path := logPath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("WARNING: cannot create log directory: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("WARNING: cannot open log file %s: %v", path, err)
		return
	}

	logFile = f
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.Printf("Logging to file: %s", path)
}

// ReadTail returns the last n lines from the log file.
func ReadTail(n int) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(logPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	// Increase buffer for potentially long lines
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n"), nil
}

// Clear truncates the log file.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		if err := logFile.Truncate(0); err != nil {
			return fmt.Errorf("truncate log file: %w", err)
		}
		if _, err := logFile.Seek(0, 0); err != nil {
			return fmt.Errorf("seek log file: %w", err)
		}
		return nil
	}

	return os.Truncate(logPath(), 0)
}
