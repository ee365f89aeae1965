package workload

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"taskcore/pkg/config"
	"taskcore/pkg/kernel"
	"taskcore/pkg/task"
)

// Exit codes of the built-in programs.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// intArg parses args[i], falling back to def when the argument is absent.
func intArg(args []string, i, def int) (int, error) {
	if i >= len(args) {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n < 0 {
		return 0, errors.Errorf("argument %d: %q is not a non-negative integer", i, args[i])
	}
	return n, nil
}

func usage(env *Env, p *kernel.Proc, err error) int {
	env.Log.Warn("bad arguments", zap.Uint32("pid", uint32(p.PID())), zap.Error(err))
	return ExitUsage
}

func newEcho(env *Env, _ config.TaskSpec) kernel.Program {
	return func(p *kernel.Proc, args []string) int {
		fmt.Fprintf(env.Out, "[%d] %s\n", p.PID(), strings.Join(args, " "))
		return ExitOK
	}
}

func newSpin(env *Env, _ config.TaskSpec) kernel.Program {
	return func(p *kernel.Proc, args []string) int {
		n, err := intArg(args, 0, 3)
		if err != nil {
			return usage(env, p, err)
		}
		for i := 0; i < n; i++ {
			p.Yield()
		}
		return ExitOK
	}
}

func newWait(env *Env, _ config.TaskSpec) kernel.Program {
	return func(p *kernel.Proc, args []string) int {
		f, err := intArg(args, 0, 0)
		if err != nil {
			return usage(env, p, err)
		}
		if f >= task.MaxFlags {
			return usage(env, p, errors.Errorf("flag %d out of range", f))
		}
		if err := p.WaitEvent(task.Flag(f)); err != nil {
			return usage(env, p, err)
		}
		return ExitOK
	}
}

func newSleep(env *Env, _ config.TaskSpec) kernel.Program {
	return func(p *kernel.Proc, args []string) int {
		n, err := intArg(args, 0, 1)
		if err != nil {
			return usage(env, p, err)
		}
		p.Sleep(uint64(n))
		return ExitOK
	}
}

// newNotify raises the task's configured signal flags on every task with the target
// name. It fails if a target has no live task.
func newNotify(env *Env, spec config.TaskSpec) kernel.Program {
	signals := append([]config.FlagSpec(nil), spec.Signal...)
	return func(p *kernel.Proc, args []string) int {
		delay, err := intArg(args, 0, 0)
		if err != nil {
			return usage(env, p, err)
		}
		if delay > 0 {
			p.Sleep(uint64(delay))
		}

		code := ExitOK
		for _, s := range signals {
			targets := env.Manager.Lookup(s.Task)
			if len(targets) == 0 {
				env.Log.Warn("signal target not found", zap.String("target", s.Task))
				code = ExitFailure
				continue
			}
			for _, t := range targets {
				if err := p.Signal(t.PID(), task.Flag(s.Flag)); err != nil {
					env.Log.Warn("signal failed", zap.String("target", s.Task), zap.Error(err))
					code = ExitFailure
				}
			}
		}
		return code
	}
}

// newRecurse nests call frames and yields in each one. A stack too small
// for the requested depth terminates the task with task.ExitStackOverflow.
func newRecurse(env *Env, _ config.TaskSpec) kernel.Program {
	return func(p *kernel.Proc, args []string) int {
		depth, err := intArg(args, 0, 8)
		if err != nil {
			return usage(env, p, err)
		}
		words, err := intArg(args, 1, 8)
		if err != nil {
			return usage(env, p, err)
		}

		reached := 0
		var descend func(level int)
		descend = func(level int) {
			if level == depth {
				return
			}
			p.Call(words, func() {
				reached = level + 1
				p.Yield()
				descend(level + 1)
			})
		}
		descend(0)
		env.Log.Debug("recursion done", zap.Uint32("pid", uint32(p.PID())), zap.Int("depth", reached))
		return ExitOK
	}
}

func newExit(env *Env, _ config.TaskSpec) kernel.Program {
	return func(p *kernel.Proc, args []string) int {
		code, err := intArg(args, 0, 0)
		if err != nil {
			return usage(env, p, err)
		}
		p.Exit(code)
		return code
	}
}

func newFail(_ *Env, spec config.TaskSpec) kernel.Program {
	return func(*kernel.Proc, []string) int {
		panic(fmt.Sprintf("task %s failed", spec.Name))
	}
}
