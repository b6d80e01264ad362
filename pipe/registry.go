package pipe

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/config"
	"github.com/testomatio/reporter/model"
)

// ErrUnknownPipe is returned for a configured pipe that no plugin provides.
var ErrUnknownPipe = errors.New("unknown pipe")

// Deps is what a Factory gets to construct a pipe.
type Deps struct {
	Logger zerolog.Logger
	Config *config.Config
	Store  *Store
	Params model.RunParams
	// Options of a configured extra pipe
	Options map[string]string
}

// Factory constructs a pipe. Returning a disabled pipe is preferred over an
// error when required configuration is merely absent.
type Factory func(deps Deps) (Pipe, error)

// LoadResult is the outcome of constructing one pipe.
type LoadResult struct {
	Name string
	Pipe Pipe
	Err  error
}

type entry struct {
	name    string
	factory Factory
}

// Registry knows the built-in pipes, in delivery order, and the plugins that
// can be referenced from the project configuration.
type Registry struct {
	mu       sync.RWMutex
	builtins []entry
	plugins  map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Factory)}
}

// RegisterBuiltin appends a pipe that is always constructed.
func (r *Registry) RegisterBuiltin(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins = append(r.builtins, entry{name: name, factory: f})
}

// RegisterPlugin makes a pipe available to the [[pipes]] section of the
// project configuration.
func (r *Registry) RegisterPlugin(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[strings.ToLower(name)] = f
}

// Build constructs every built-in pipe and every configured plugin. A pipe
// that fails to construct is reported in its LoadResult and never aborts the
// others.
func (r *Registry) Build(deps Deps) []LoadResult {
	r.mu.RLock()
	builtins := append([]entry(nil), r.builtins...)
	r.mu.RUnlock()

	var results []LoadResult
	for _, e := range builtins {
		d := deps
		d.Options = nil
		results = append(results, construct(e.name, e.factory, d))
	}

	if deps.Config != nil {
		for _, pc := range deps.Config.Pipes {
			r.mu.RLock()
			f, ok := r.plugins[strings.ToLower(pc.Name)]
			r.mu.RUnlock()
			if !ok {
				results = append(results, LoadResult{Name: pc.Name, Err: fmt.Errorf("%w: %s", ErrUnknownPipe, pc.Name)})
				continue
			}
			d := deps
			d.Options = pc.Options
			results = append(results, construct(pc.Name, f, d))
		}
	}
	return results
}

func construct(name string, f Factory, deps Deps) (res LoadResult) {
	res.Name = name
	defer func() {
		if r := recover(); r != nil {
			res.Pipe = nil
			res.Err = fmt.Errorf("constructing pipe %s panicked: %v", name, r)
		}
	}()
	p, err := f(deps)
	if err != nil {
		res.Err = fmt.Errorf("constructing pipe %s: %w", name, err)
		return res
	}
	if p == nil {
		res.Err = fmt.Errorf("constructing pipe %s: factory returned no pipe", name)
		return res
	}
	res.Pipe = p
	return res
}

// Pipes logs the failed constructions and the enabled pipe names, and returns
// every constructed pipe, enabled or not.
func Pipes(logger zerolog.Logger, results []LoadResult) []Pipe {
	var pipes []Pipe
	for _, res := range results {
		if res.Err != nil {
			logger.Warn().Err(res.Err).Str("pipe", res.Name).Msg("Skipping pipe")
			continue
		}
		pipes = append(pipes, res.Pipe)
	}

	enabled := Names(Enabled(pipes))
	if len(enabled) == 0 {
		logger.Debug().Msg("No pipes enabled")
	} else {
		logger.Info().Strs("pipes", enabled).Msg("Pipes enabled")
	}
	return pipes
}
