package task

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(t *testing.T, entry EntryFunc) *Task {
	t.Helper()
	if entry == nil {
		entry = func([]string) int { return 0 }
	}
	tk, err := New("worker", entry, []string{"a", "b"}, 256, 10,
		WithPIDAllocator(NewPIDAllocator(DefaultPIDStart)),
		WithStackAllocator(NewHeapAllocator(0)))
	require.NoError(t, err)
	return tk
}

// hookRecorder records hook firings in order.
type hookRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *hookRecorder) hook(name string) Hook {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, name)
	}
}

func (r *hookRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *hookRecorder) install(tk *Task) {
	tk.SetOnStartHook(r.hook("start"))
	tk.SetOnSuspendHook(r.hook("suspend"))
	tk.SetOnResumeHook(r.hook("resume"))
	tk.SetOnTerminateHook(r.hook("terminate"))
}

func TestNewTaskDefaults(t *testing.T) {
	tk := newTestTask(t, nil)

	assert.Equal(t, DefaultPIDStart, tk.PID())
	assert.Equal(t, Priority(10), tk.Priority())
	assert.Equal(t, "worker", tk.Name())
	assert.Equal(t, StateReady, tk.GetState())
	assert.Equal(t, []string{"a", "b"}, tk.Params())
	assert.Zero(t, tk.ExecutionTime())
	assert.Equal(t, 256, tk.Stack().Size())
	assert.False(t, tk.CheckStackOverflow())

	_, ok := tk.ExitCode()
	assert.False(t, ok, "exit code is not valid before termination")
}

func TestNewTaskErrors(t *testing.T) {
	_, err := New("nil", nil, nil, 64, 0)
	assert.True(t, errors.Is(err, ErrNilEntry))

	_, err = New("oom", func([]string) int { return 0 }, nil, 64, 0,
		WithStackAllocator(NewHeapAllocator(32)))
	assert.True(t, errors.Is(err, ErrOutOfMemory), "got %v", err)

	_, err = New("tiny", func([]string) int { return 0 }, nil, 2, 0)
	assert.True(t, errors.Is(err, ErrInvalidStackSize), "got %v", err)
}

func TestNewTaskStackTooSmallForContext(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		guard int
	}{
		{"smaller than a frame", NumRegisters - 1, 0},
		{"exactly a frame", NumRegisters, 0},
		{"frame reaches default guard", DefaultGuardWords + NumRegisters, DefaultGuardWords},
		{"frame inside guard band", NumRegisters + 1, DefaultGuardWords},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewHeapAllocator(0)
			_, err := New("small", func([]string) int { return 0 }, nil, tt.size, 0,
				WithStackAllocator(a), WithGuardWords(tt.guard))
			assert.True(t, errors.Is(err, ErrInvalidStackSize), "got %v", err)
			assert.Zero(t, a.Used(), "nothing is allocated for a rejected stack")
		})
	}
}

func TestNewTaskMinimumStack(t *testing.T) {
	for _, guard := range []int{0, DefaultGuardWords, 8} {
		tk, err := New("min", func([]string) int { return 0 }, nil, MinStackSize(guard), 0,
			WithStackAllocator(NewHeapAllocator(0)), WithGuardWords(guard))
		require.NoError(t, err, "guard %d", guard)
		assert.Equal(t, StateReady, tk.GetState())
		assert.False(t, tk.CheckStackOverflow(), "guard %d: fresh task must not report overflow", guard)
	}
}

func TestSetters(t *testing.T) {
	tk := newTestTask(t, nil)

	tk.SetName("renamed")
	tk.SetPriority(PriorityLowest)
	tk.IncrementExecutionTime(3)
	tk.IncrementExecutionTime(4)
	tk.SetWakeUpTime(99)

	assert.Equal(t, "renamed", tk.Name())
	assert.Equal(t, PriorityLowest, tk.Priority())
	assert.Equal(t, uint64(7), tk.ExecutionTime())
	assert.Equal(t, uint64(99), tk.WakeUpTime())

	tk.SetExitCode(42)
	code, ok := tk.ExitCode()
	assert.Equal(t, 42, code)
	assert.False(t, ok)

	require.NoError(t, tk.Terminate())
	code, ok = tk.ExitCode()
	assert.Equal(t, 42, code)
	assert.True(t, ok)
}

func TestSetStateSchedulerTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		wantErr bool
	}{
		{"Ready to Running", StateReady, StateRunning, false},
		{"Running to Ready", StateRunning, StateReady, false},
		{"Running to Blocked", StateRunning, StateBlocked, false},
		{"Blocked to Ready", StateBlocked, StateReady, false},
		{"Ready to Ready", StateReady, StateReady, false},
		{"Ready to Blocked", StateReady, StateBlocked, true},
		{"Blocked to Running", StateBlocked, StateRunning, true},
		{"Running to Suspended", StateRunning, StateSuspended, true},
		{"Running to Terminated", StateRunning, StateTerminated, true},
		{"Terminated to Ready", StateTerminated, StateReady, true},
		{"Suspended to Ready", StateSuspended, StateReady, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := newTestTask(t, nil)
			rec := &hookRecorder{}
			rec.install(tk)
			tk.state = tt.from

			err := tk.SetState(tt.to)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)
				assert.Equal(t, tt.from, tk.GetState())
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, tk.GetState())
			}
			assert.Empty(t, rec.list(), "SetState fires no hooks")
		})
	}
}

func TestLifecycleOperations(t *testing.T) {
	tests := []struct {
		name      string
		from      State
		op        func(*Task) error
		want      State
		wantErr   bool
		wantHooks []string
	}{
		{"Start from Ready", StateReady, (*Task).Start, StateRunning, false, []string{"start"}},
		{"Start on Running is a no-op", StateRunning, (*Task).Start, StateRunning, false, nil},
		{"Start on Terminated", StateTerminated, (*Task).Start, StateTerminated, true, nil},
		{"Start on Blocked", StateBlocked, (*Task).Start, StateBlocked, true, nil},
		{"Suspend from Ready", StateReady, (*Task).Suspend, StateSuspended, false, []string{"suspend"}},
		{"Suspend from Running", StateRunning, (*Task).Suspend, StateSuspended, false, []string{"suspend"}},
		{"Suspend on Suspended is a no-op", StateSuspended, (*Task).Suspend, StateSuspended, false, nil},
		{"Suspend on Blocked", StateBlocked, (*Task).Suspend, StateBlocked, true, nil},
		{"Resume from Suspended", StateSuspended, (*Task).Resume, StateReady, false, []string{"resume"}},
		{"Resume on Running", StateRunning, (*Task).Resume, StateRunning, true, nil},
		{"Resume on Terminated", StateTerminated, (*Task).Resume, StateTerminated, true, nil},
		{"Terminate from Blocked", StateBlocked, (*Task).Terminate, StateTerminated, false, []string{"terminate"}},
		{"Terminate from Suspended", StateSuspended, (*Task).Terminate, StateTerminated, false, []string{"terminate"}},
		{"Terminate on Terminated is a no-op", StateTerminated, (*Task).Terminate, StateTerminated, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := newTestTask(t, nil)
			rec := &hookRecorder{}
			rec.install(tk)
			tk.state = tt.from

			err := tt.op(tk)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, tk.GetState())
			assert.Equal(t, tt.wantHooks, rec.list())
		})
	}
}

func TestTerminateTwiceFiresHookOnce(t *testing.T) {
	tk := newTestTask(t, nil)
	var fired int
	tk.SetOnTerminateHook(func() { fired++ })

	require.NoError(t, tk.Terminate())
	require.NoError(t, tk.Terminate())
	assert.Equal(t, 1, fired)
}

func TestConcurrentTerminateFiresHookOnce(t *testing.T) {
	tk := newTestTask(t, nil)
	var mu sync.Mutex
	fired := 0
	tk.SetOnTerminateHook(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(code int) {
			defer wg.Done()
			_ = tk.TerminateWith(code)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, fired)
}

func TestHookReplacementLastWriterWins(t *testing.T) {
	tk := newTestTask(t, nil)
	var got string
	tk.SetOnStartHook(func() { got = "first" })
	tk.SetOnStartHook(func() { got = "second" })

	require.NoError(t, tk.Start())
	assert.Equal(t, "second", got)
}

func TestEmptyHookSlotIsNoop(t *testing.T) {
	tk := newTestTask(t, nil)
	tk.SetOnStartHook(func() { t.Fatal("cleared hook fired") })
	tk.SetOnStartHook(nil)
	assert.NoError(t, tk.Start())
}

func TestPanickingHookKeepsTransition(t *testing.T) {
	tk := newTestTask(t, nil)
	tk.SetOnSuspendHook(func() { panic("boom") })

	assert.NoError(t, tk.Suspend())
	assert.Equal(t, StateSuspended, tk.GetState())
}

func TestHookMayQueryTask(t *testing.T) {
	tk := newTestTask(t, nil)
	var seen State
	tk.SetOnStartHook(func() { seen = tk.GetState() })

	require.NoError(t, tk.Start())
	assert.Equal(t, StateRunning, seen)
}

func TestEventFlagsSurviveTransitions(t *testing.T) {
	tk := newTestTask(t, nil)
	require.NoError(t, tk.SetEventFlag(5))

	require.NoError(t, tk.Start())
	assert.True(t, tk.IsEventFlagSet(5))
	require.NoError(t, tk.SetState(StateBlocked))
	assert.True(t, tk.IsEventFlagSet(5))
	require.NoError(t, tk.SetState(StateReady))
	require.NoError(t, tk.Suspend())
	assert.True(t, tk.IsEventFlagSet(5))
	require.NoError(t, tk.Terminate())
	assert.True(t, tk.IsEventFlagSet(5))

	require.NoError(t, tk.ClearEventFlag(5))
	assert.False(t, tk.IsEventFlagSet(5))
	assert.True(t, errors.Is(tk.SetEventFlag(32), ErrInvalidFlag))
}

// TestScenarioBlockThenComplete: start, block, wake, run to completion.
func TestScenarioBlockThenComplete(t *testing.T) {
	var gotArgs []string
	tk := newTestTask(t, func(args []string) int {
		gotArgs = args
		return 0
	})
	rec := &hookRecorder{}
	rec.install(tk)

	require.NoError(t, tk.Start())
	assert.Equal(t, StateRunning, tk.GetState())
	require.NoError(t, tk.SetState(StateBlocked))
	require.NoError(t, tk.SetState(StateReady))
	require.NoError(t, tk.SetState(StateRunning))

	code, err := tk.Exec()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"a", "b"}, gotArgs)
	assert.Equal(t, StateTerminated, tk.GetState())

	code, ok := tk.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, 0, code)

	require.NoError(t, tk.Terminate())
	assert.Equal(t, []string{"start", "terminate"}, rec.list())
}

// TestScenarioSuspendResumeTerminate checks hook order for a task that is
// suspended right after creation.
func TestScenarioSuspendResumeTerminate(t *testing.T) {
	tk := newTestTask(t, nil)
	rec := &hookRecorder{}
	rec.install(tk)

	require.NoError(t, tk.Suspend())
	assert.Equal(t, StateSuspended, tk.GetState())
	require.NoError(t, tk.Resume())
	assert.Equal(t, StateReady, tk.GetState())
	require.NoError(t, tk.Terminate())

	assert.Equal(t, []string{"suspend", "resume", "terminate"}, rec.list())
}

func TestExecKeepsExternalExitCode(t *testing.T) {
	var tk *Task
	tk = newTestTask(t, func([]string) int {
		_ = tk.TerminateWith(ExitKilled)
		return 3
	})
	require.NoError(t, tk.Start())

	code, err := tk.Exec()
	require.NoError(t, err)
	assert.Equal(t, ExitKilled, code)
}

func TestExecAfterTerminate(t *testing.T) {
	calls := 0
	tk := newTestTask(t, func([]string) int {
		calls++
		return 0
	})
	require.NoError(t, tk.Start())
	require.NoError(t, tk.TerminateWith(ExitKilled))

	code, err := tk.Exec()
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, ExitKilled, code)
	assert.Zero(t, calls)
	assert.Equal(t, StateTerminated, tk.GetState())

	require.NoError(t, tk.Release())
	_, err = tk.Exec()
	assert.Error(t, err)
	assert.Zero(t, calls)
}

func TestExecRequiresStart(t *testing.T) {
	calls := 0
	tk := newTestTask(t, func([]string) int {
		calls++
		return 0
	})
	rec := &hookRecorder{}
	rec.install(tk)

	_, err := tk.Exec()
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Zero(t, calls)
	assert.Equal(t, StateReady, tk.GetState())
	assert.Empty(t, rec.list())

	require.NoError(t, tk.Start())
	_, err = tk.Exec()
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"start", "terminate"}, rec.list())
}

func TestExecRunsEntryOnce(t *testing.T) {
	calls := 0
	var tk *Task
	tk = newTestTask(t, func([]string) int {
		calls++
		_, err := tk.Exec()
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		return 4
	})
	require.NoError(t, tk.Start())

	code, err := tk.Exec()
	require.NoError(t, err)
	assert.Equal(t, 4, code)
	assert.Equal(t, 1, calls)
}

func TestExecPanic(t *testing.T) {
	tk := newTestTask(t, func([]string) int { panic("entry failed") })
	require.NoError(t, tk.Start())

	code, err := tk.Exec()
	require.NoError(t, err)
	assert.Equal(t, ExitPanic, code)
	assert.Equal(t, StateTerminated, tk.GetState())
}

func TestExecEntryMutatesParams(t *testing.T) {
	tk := newTestTask(t, func(args []string) int {
		args[0] = "changed"
		return len(args)
	})
	require.NoError(t, tk.Start())
	code, err := tk.Exec()
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Equal(t, "changed", tk.Params()[0])
}

func TestReleaseRequiresTermination(t *testing.T) {
	a := NewHeapAllocator(0)
	tk, err := New("rel", func([]string) int { return 0 }, nil, 64, 0, WithStackAllocator(a))
	require.NoError(t, err)
	assert.Equal(t, 64, a.Used())

	assert.True(t, errors.Is(tk.Release(), ErrTaskAlive))
	assert.False(t, tk.Stack().Released())

	require.NoError(t, tk.Terminate())
	require.NoError(t, tk.Release())
	assert.Zero(t, a.Used())
	assert.True(t, errors.Is(tk.Release(), ErrStackReleased))
}

func TestCheckStackOverflowThroughTask(t *testing.T) {
	tk := newTestTask(t, nil)
	s := tk.Stack()

	require.NoError(t, s.SetPointer(s.Boundary()+1))
	assert.False(t, tk.CheckStackOverflow())
	require.NoError(t, s.SetPointer(s.Boundary()))
	assert.True(t, tk.CheckStackOverflow())
}
