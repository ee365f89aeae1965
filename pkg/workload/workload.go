// Package workload provides the built-in programs a configured kernel can
// run, and spawns the tasks listed in the configuration.
package workload

import (
	"io"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"taskcore/pkg/config"
	"taskcore/pkg/kernel"
	"taskcore/pkg/task"
)

// ErrUnknownProgram is returned for a task whose program is not built in.
var ErrUnknownProgram = errors.New("unknown program")

// Env is what built-in programs may use besides their Proc.
type Env struct {
	Out     io.Writer
	Log     *zap.Logger
	Manager *kernel.Manager
}

// Factory binds a built-in program to its environment and task spec.
type Factory func(env *Env, spec config.TaskSpec) kernel.Program

// Builtin is a named built-in program.
type Builtin struct {
	Name string
	New  Factory
	Help string
}

var builtins = []Builtin{
	{"echo", newEcho, "Print the arguments and exit"},
	{"spin", newSpin, "Yield N times (default 3)"},
	{"wait", newWait, "Block until event flag N is raised (default 0)"},
	{"sleep", newSleep, "Sleep for N ticks (default 1)"},
	{"notify", newNotify, "Sleep N ticks, then raise the configured signal flags"},
	{"recurse", newRecurse, "Push DEPTH call frames of WORDS words, yielding in each"},
	{"exit", newExit, "Exit with code N"},
	{"fail", newFail, "Panic"},
}

var builtinMap = make(map[string]*Builtin)

func init() {
	for i := range builtins {
		builtinMap[builtins[i].Name] = &builtins[i]
	}
}

// Get returns the built-in program with the given name, or nil.
func Get(name string) *Builtin {
	return builtinMap[name]
}

// Names returns the names of all built-in programs, sorted.
func Names() []string {
	names := make([]string, 0, len(builtinMap))
	for name := range builtinMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spawn creates one task per spec on k. All programs are resolved before
// any task is created.
func Spawn(k *kernel.Kernel, env Env, specs []config.TaskSpec) ([]*kernel.Proc, error) {
	if env.Out == nil {
		env.Out = io.Discard
	}
	if env.Log == nil {
		env.Log = zap.NewNop()
	}
	env.Manager = k.Manager()

	progs := make([]kernel.Program, len(specs))
	for i, spec := range specs {
		b := Get(spec.Program)
		if b == nil {
			return nil, errors.Wrapf(ErrUnknownProgram, "task %q: %q", spec.Name, spec.Program)
		}
		progs[i] = b.New(&env, spec)
	}

	procs := make([]*kernel.Proc, 0, len(specs))
	for i, spec := range specs {
		p, err := k.Spawn(kernel.Spec{
			Name:      spec.Name,
			Program:   progs[i],
			Args:      spec.Args,
			Priority:  task.Priority(spec.Priority),
			StackSize: spec.StackSize,
		})
		if err != nil {
			return procs, err
		}
		procs = append(procs, p)
	}
	return procs, nil
}
