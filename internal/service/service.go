// Package service describes the streaming destination an output publishes
// to (server URL, stream key, capabilities).
package service

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
)

var (
	ErrMissingURL    = errors.New("service url is empty")
	ErrInvalidScheme = errors.New("service url must use rtmp or rtmps")
)

// Config holds service settings
type Config struct {
	Name       string
	URL        string // rtmp://host[:port]/app
	Key        string // stream key / publishing name
	MultiTrack bool   // destination accepts more than one audio track
}

// Service is a destination bound to at most one output at a time
type Service struct {
	cfg Config

	mu     sync.Mutex
	active bool
	output any
}

// New creates a service
func New(cfg Config) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) Name() string { return s.cfg.Name }

func (s *Service) URL() string { return s.cfg.URL }

func (s *Service) Key() string { return s.cfg.Key }

// SupportsMultitrack reports whether the destination accepts multiple audio
// tracks
func (s *Service) SupportsMultitrack() bool {
	return s.cfg.MultiTrack
}

// Initialize validates the destination before encoders are started
func (s *Service) Initialize() error {
	if s.cfg.URL == "" {
		return fmt.Errorf("service %s: %w", s.cfg.Name, ErrMissingURL)
	}

	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("service %s: parse url: %w", s.cfg.Name, err)
	}
	if u.Scheme != "rtmp" && u.Scheme != "rtmps" {
		return fmt.Errorf("service %s: %w (got %q)", s.cfg.Name, ErrInvalidScheme, u.Scheme)
	}

	return nil
}

// Activate marks the service in use
func (s *Service) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
}

// Deactivate marks the service idle. remove is set when the owning output is
// being destroyed.
func (s *Service) Deactivate(remove bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	if remove {
		s.output = nil
	}
}

// Active reports whether an output is capturing through the service
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Bind attaches the service to output and returns the output it was bound to
// before, if any
func (s *Service) Bind(output any) (previous any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous = s.output
	s.output = output
	return previous
}

// Unbind detaches output if it is the bound one
func (s *Service) Unbind(output any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.output == output {
		s.output = nil
	}
}

// Output returns the bound output
func (s *Service) Output() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}
