// Package registry keeps the process-wide table of outputs by name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"rapidoutput/internal/output"
	"rapidoutput/internal/ref"
	"rapidoutput/pkg/models"
)

var (
	ErrOutputExists   = errors.New("output already exists")
	ErrOutputNotFound = errors.New("output not found")
)

// entry owns the creator reference of an output and a weak handle used to
// hand out strong references
type entry struct {
	out  *output.Output
	weak *ref.Handle[output.Output]
}

// Registry handles output lifecycle and maintains the in-memory table
type Registry struct {
	mu      sync.RWMutex
	outputs map[string]*entry
	log     logrus.FieldLogger
}

// New creates an empty registry
func New(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		outputs: make(map[string]*entry),
		log:     log.WithField("component", "registry"),
	}
}

// Add takes over the creator reference of out. On error the caller keeps
// ownership.
func (r *Registry) Add(out *output.Output) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.outputs[out.Name()]; exists {
		return fmt.Errorf("%s: %w", out.Name(), ErrOutputExists)
	}

	h := out.Handle()
	h.AddWeak()
	r.outputs[out.Name()] = &entry{out: out, weak: h}

	r.log.Debugf("Registered output '%s'", out.Name())
	return nil
}

// Create builds an output from cfg and registers it
func (r *Registry) Create(cfg output.Config) (*output.Output, error) {
	out, err := output.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := r.Add(out); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// Get returns a strong reference to the named output. The caller must
// Release it.
func (r *Registry) Get(name string) (*output.Output, error) {
	r.mu.RLock()
	e, exists := r.outputs[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%s: %w", name, ErrOutputNotFound)
	}
	out, ok := e.weak.Get()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrOutputNotFound)
	}
	return out, nil
}

// Names returns the registered output names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the API view of every live output, sorted by name
func (r *Registry) List() []models.OutputInfo {
	infos := make([]models.OutputInfo, 0)
	for _, name := range r.Names() {
		out, err := r.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, out.Info())
		out.Release()
	}
	return infos
}

// Remove drops the output from the table and releases the creator
// reference. A running output lives on until its stop event.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	e, exists := r.outputs[name]
	delete(r.outputs, name)
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%s: %w", name, ErrOutputNotFound)
	}

	e.out.Release()
	if e.weak.Destroyed() {
		r.log.Debugf("Removed output '%s'", name)
	} else {
		r.log.Debugf("Removed output '%s', still referenced elsewhere", name)
	}
	e.weak.ReleaseWeak()
	return nil
}

// Shutdown force-stops every output in parallel and empties the table.
// Outputs that do not stop before ctx is done are reported in the returned
// error.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	entries := r.outputs
	r.outputs = make(map[string]*entry)
	r.mu.Unlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result *multierror.Error
	)

	for name, e := range entries {
		name, e := name, e
		wg.Add(1)
		go func() {
			defer wg.Done()

			stopped := make(chan struct{})
			go func() {
				e.out.ForceStop()
				e.out.Release()
				e.weak.ReleaseWeak()
				close(stopped)
			}()

			select {
			case <-stopped:
			case <-ctx.Done():
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("output %s: %w", name, ctx.Err()))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	r.log.Infof("Stopped %d outputs", len(entries))
	return nil
}
