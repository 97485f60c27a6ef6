package runner

import (
	"bytes"
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

// Hooks fire at the edges of the run lifecycle.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer flushes in-flight work before shutdown completes.
type Drainer interface {
	Drain() error
}

// DrainerFunc adapts a function to the Drainer interface.
type DrainerFunc func() error

func (f DrainerFunc) Drain() error { return f() }

const KitVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"INTERVIEWKIT\" \"\" 0 }}\nVersion: " + KitVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
