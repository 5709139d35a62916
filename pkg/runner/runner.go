// Package runner owns the process lifecycle: start hooks, a signal or
// context driven stop, and a bounded drain of open sessions.
package runner

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	// OnStart runs before the runner reports running. An error aborts Run.
	OnStart func(ctx context.Context) error
	// OnStop runs after the drain, with its own bounded context.
	OnStop func(ctx context.Context) error
}

// Drainer stops admitting work and waits for in-flight work until ctx ends.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

func PrintBanner(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	tpl := "{{ .Title \"PARLEY\" \"\" 0 }}\nVersion: " + Version + "\nGo: {{ .GoVersion }}\n"
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
