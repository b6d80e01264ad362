// Package pipe defines the delivery targets of test-run lifecycle events and
// the registry that assembles them.
package pipe

import (
	"context"
	"fmt"

	"github.com/testomatio/reporter/model"
)

// Pipe is a delivery target for run lifecycle events. Enablement is decided
// once at construction; a disabled pipe treats every call as a no-op.
// Implementations must not return delivery failures from AddTest: those are
// logged and counted inside the pipe.
type Pipe interface {
	IsEnabled() bool
	// PrepareRun returns the titles of the tests selected by opts, if the pipe
	// supports test selection.
	PrepareRun(ctx context.Context, opts model.FilterOptions) ([]string, error)
	CreateRun(ctx context.Context, params model.RunParams) error
	AddTest(ctx context.Context, test model.TestData) error
	FinishRun(ctx context.Context, params model.FinishParams) error
	String() string
}

// Enabled filters pipes down to the enabled ones.
func Enabled(pipes []Pipe) []Pipe {
	var out []Pipe
	for _, p := range pipes {
		if p != nil && p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}

// Names returns the pipes' human identifiers.
func Names(pipes []Pipe) []string {
	names := make([]string, 0, len(pipes))
	for _, p := range pipes {
		names = append(names, p.String())
	}
	return names
}

// Noop is embedded by pipes that only implement part of the capability set.
type Noop struct{}

func (Noop) PrepareRun(context.Context, model.FilterOptions) ([]string, error) { return nil, nil }
func (Noop) CreateRun(context.Context, model.RunParams) error                 { return nil }
func (Noop) AddTest(context.Context, model.TestData) error                    { return nil }
func (Noop) FinishRun(context.Context, model.FinishParams) error              { return nil }

// Disabled is a pipe that never does anything.
type Disabled struct {
	Noop
	Name string
}

func (Disabled) IsEnabled() bool  { return false }
func (d Disabled) String() string { return fmt.Sprintf("%s (disabled)", d.Name) }
