package raft

import (
	"io"
	"log"
	"os"
)

// StdLogger writes through the standard library logger, prefixing every line with a component tag such as
// "[NODE-1]". Debug lines are only written when Verbose is set.
type StdLogger struct {
	l       *log.Logger
	Verbose bool
}

// NewStdLogger returns a StdLogger writing to w (os.Stderr when nil).
func NewStdLogger(w io.Writer, prefix string) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{l: log.New(w, prefix+" ", log.LstdFlags|log.Lmicroseconds)}
}

func (s *StdLogger) Debugf(format string, args ...interface{}) {
	if s.Verbose {
		s.l.Printf("DEBUG "+format, args...)
	}
}

func (s *StdLogger) Infof(format string, args ...interface{}) {
	s.l.Printf("INFO "+format, args...)
}

func (s *StdLogger) Warnf(format string, args ...interface{}) {
	s.l.Printf("WARN "+format, args...)
}

func (s *StdLogger) Errorf(format string, args ...interface{}) {
	s.l.Printf("ERROR "+format, args...)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debugf(_ string, _ ...interface{}) {}
func (NopLogger) Infof(_ string, _ ...interface{})  {}
func (NopLogger) Warnf(_ string, _ ...interface{})  {}
func (NopLogger) Errorf(_ string, _ ...interface{}) {}
