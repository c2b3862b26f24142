// Package runtime defines the runtime plugin contract and the runtimes that implement it.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fluxbase-eu/runtime-babel/internal/bundler"
	"github.com/fluxbase-eu/runtime-babel/internal/runner"
)

var (
	// ErrFunctionRequired is returned when an operation is given no function
	ErrFunctionRequired = errors.New("A function instance is required") //nolint:staticcheck // user-facing message

	// ErrUnknownRuntime is returned by Lookup for unregistered names
	ErrUnknownRuntime = errors.New("unknown runtime")
)

// Function is what a runtime needs from the host framework's function model
type Function interface {
	Name() string
	Handler() string
	SetHandler(handler string)
	RootPath(elem ...string) string
	ProjectPath(elem ...string) string
	DeployedName(stage, region string) string
	Save() error
	RuntimeOptions() map[string]interface{}
	EnvVars(stage, region string) (map[string]string, error)
	ExcludePatterns() []string
	Timeout() time.Duration
	MemorySize() int
}

// Runtime scaffolds, runs and builds functions for one language toolchain
type Runtime interface {
	Name(provider string) string
	Scaffold(ctx context.Context, fn Function) error
	Run(ctx context.Context, fn Function, stage, region string) (*runner.Result, error)
	Build(ctx context.Context, fn Function, stage, region string) ([]bundler.PackagedPath, error)
}

// Settings configure a runtime instance
type Settings struct {
	NodePath    string
	ModulesPath string
	GracePeriod time.Duration
	DistRoot    string
	Target      string
	NpmPath     string
	// Output receives run results and install logs; nil discards them
	Output io.Writer
}

// Factory creates a runtime from settings
type Factory func(settings Settings) Runtime

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a runtime available under name, replacing any previous registration
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Lookup returns the factory registered under name
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownRuntime, name, strings.Join(namesLocked(), ", "))
	}
	return factory, nil
}

// Names returns the registered runtime names, sorted
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
