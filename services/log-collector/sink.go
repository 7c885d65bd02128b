package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var errBadTopic = errors.New("topic does not name a service")

// FileSink appends log lines into one file per service:
// logs/data-logger -> <dir>/data-logger.log
type FileSink struct {
	dir string
	mu  sync.Mutex
}

// NewFileSink creates the directory if it is missing.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Append writes payload plus a newline to the file of the topic's service.
// Open-write-close on every line: slower than a kept handle, but logrotate
// can move the file at any time.
func (s *FileSink) Append(topic string, payload []byte) error {
	service, err := serviceFromTopic(topic)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, service+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := payload
	if len(line) == 0 || line[len(line)-1] != '\n' {
		// slog lines end with \n, a raw MQTT publish usually does not.
		line = append(append([]byte(nil), payload...), '\n')
	}
	_, err = f.Write(line)
	return err
}

// serviceFromTopic returns the second topic level ("logs/<service>/...").
func serviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %q", errBadTopic, topic)
	}
	service := parts[1]
	// The name becomes a file name.
	if service == "" || service == "." || service == ".." || strings.ContainsAny(service, `\`) {
		return "", fmt.Errorf("%w: %q", errBadTopic, topic)
	}
	return service, nil
}
