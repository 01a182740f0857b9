package controller

import (
	"fmt"
	"os"
	"sync"
)

// Sink receives text commands for a slot, one line at a time
type Sink interface {
	WriteCommand(slot uint8, line string) error
}

type SinkFunc func(slot uint8, line string) error

func (f SinkFunc) WriteCommand(slot uint8, line string) error {
	return f(slot, line)
}

// PipeSink writes commands to per slot files or named pipes.
// Pattern gets slot number starting from 1, like "Pipes/ctrl%d".
type PipeSink struct {
	Pattern string

	files map[uint8]*os.File
	mu    sync.Mutex
}

func NewPipeSink(pattern string) *PipeSink {
	return &PipeSink{Pattern: pattern, files: map[uint8]*os.File{}}
}

func (s *PipeSink) Path(slot uint8) string {
	return fmt.Sprintf(s.Pattern, slot+1)
}

func (s *PipeSink) WriteCommand(slot uint8, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.files[slot]
	if f == nil {
		var err error
		// opening a pipe waits for the reader
		f, err = os.OpenFile(s.Path(slot), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		s.files[slot] = f
	}

	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		delete(s.files, slot)
		return err
	}
	return nil
}

func (s *PipeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for slot, f := range s.files {
		if err1 := f.Close(); err1 != nil {
			err = err1
		}
		delete(s.files, slot)
	}
	return err
}
