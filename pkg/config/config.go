// Package config loads the kernel configuration from YAML.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"taskcore/pkg/logger"
	"taskcore/pkg/task"
)

// Scheduling policies understood by the kernel.
const (
	PolicyRoundRobin = "round-robin"
	PolicyPriority   = "priority"
)

// Defaults applied by SetDefaults.
const (
	DefaultStackWords   = 256
	DefaultMaxTasks     = 64
	DefaultTickInterval = time.Millisecond
	DefaultMaxIdleTicks = 10000
)

// Config is the top-level configuration file.
type Config struct {
	Kernel Kernel         `yaml:"kernel"`
	Log    logger.Options `yaml:"log"`
	Tasks  []TaskSpec     `yaml:"tasks,omitempty"`
}

// Kernel configures the task manager and dispatcher.
type Kernel struct {
	// Policy selects the scheduler: round-robin or priority.
	Policy string `yaml:"policy"`
	// TickInterval is the wall-clock pause between dispatch steps while
	// every live task is blocked.
	TickInterval time.Duration `yaml:"tickInterval"`
	// MaxTasks bounds the task table.
	MaxTasks int `yaml:"maxTasks"`
	// PIDStart is the first PID handed out.
	PIDStart uint32 `yaml:"pidStart"`
	// MaxIdleTicks stops Run after this many steps without a runnable task.
	// Unset in a file it defaults to DefaultMaxIdleTicks; zero in a
	// programmatic config waits for the context instead.
	MaxIdleTicks int   `yaml:"maxIdleTicks"`
	Stack        Stack `yaml:"stack"`
}

// Stack configures task stacks.
type Stack struct {
	// DefaultSize is used when a task does not ask for a size, in words.
	DefaultSize int `yaml:"defaultSize"`
	// GuardWords is the size of the canary band at the growth limit.
	GuardWords *int `yaml:"guardWords,omitempty"`
	// Growth is "down" or "up".
	Growth string `yaml:"growth"`
	// BudgetWords bounds the total words of all live stacks; 0 is unlimited.
	BudgetWords int `yaml:"budgetWords"`
}

// Guard returns the configured guard band size.
func (s Stack) Guard() int {
	if s.GuardWords == nil {
		return task.DefaultGuardWords
	}
	return *s.GuardWords
}

// TaskSpec describes one task of the demo workload.
type TaskSpec struct {
	Name      string   `yaml:"name"`
	Program   string   `yaml:"program"`
	Args      []string `yaml:"args,omitempty"`
	Priority  uint8    `yaml:"priority"`
	StackSize int      `yaml:"stackSize,omitempty"`
	// Signal lists the flags the notify program raises on the named tasks.
	Signal []FlagSpec `yaml:"signal,omitempty"`
}

// FlagSpec names a task and one of its event flags.
type FlagSpec struct {
	Task string `yaml:"task"`
	Flag uint8  `yaml:"flag"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Log: logger.DefaultOptions()}
	SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("configuration file path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %q", path)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes unmarshals YAML, applies defaults and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := &Config{Log: logger.DefaultOptions()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml config")
	}

	SetDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

// SetDefaults fills unset fields.
func SetDefaults(cfg *Config) {
	k := &cfg.Kernel
	if k.Policy == "" {
		k.Policy = PolicyRoundRobin
	}
	k.Policy = strings.ToLower(k.Policy)
	if k.TickInterval == 0 {
		k.TickInterval = DefaultTickInterval
	}
	if k.MaxTasks == 0 {
		k.MaxTasks = DefaultMaxTasks
	}
	if k.MaxIdleTicks == 0 {
		k.MaxIdleTicks = DefaultMaxIdleTicks
	}
	if k.PIDStart == 0 {
		k.PIDStart = uint32(task.DefaultPIDStart)
	}
	if k.Stack.DefaultSize == 0 {
		k.Stack.DefaultSize = DefaultStackWords
	}
	if k.Stack.Growth == "" {
		k.Stack.Growth = task.GrowDown.String()
	}
	for i := range cfg.Tasks {
		if cfg.Tasks[i].StackSize == 0 {
			cfg.Tasks[i].StackSize = k.Stack.DefaultSize
		}
	}
}

// Validate checks the configuration for values the kernel cannot use.
func Validate(cfg *Config) error {
	k := cfg.Kernel
	switch k.Policy {
	case PolicyRoundRobin, PolicyPriority:
	default:
		return errors.Errorf("kernel.policy: unknown policy %q", k.Policy)
	}
	if k.TickInterval < 0 {
		return errors.New("kernel.tickInterval must not be negative")
	}
	if k.MaxTasks < 0 {
		return errors.New("kernel.maxTasks must not be negative")
	}
	if k.MaxIdleTicks < 0 {
		return errors.New("kernel.maxIdleTicks must not be negative")
	}
	if _, err := task.ParseGrowth(k.Stack.Growth); err != nil {
		return errors.Wrap(err, "kernel.stack.growth")
	}
	guard := k.Stack.Guard()
	if guard < 0 {
		return errors.New("kernel.stack.guardWords must not be negative")
	}
	minStack := task.MinStackSize(guard)
	if k.Stack.DefaultSize < minStack {
		return errors.Errorf("kernel.stack.defaultSize %d is below the minimum %d for guardWords %d", k.Stack.DefaultSize, minStack, guard)
	}
	if k.Stack.BudgetWords < 0 {
		return errors.New("kernel.stack.budgetWords must not be negative")
	}
	if cfg.Log.Level != "" {
		if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
			return errors.Wrap(err, "log.level")
		}
	}

	names := make(map[string]bool, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t.Name == "" {
			return errors.Errorf("tasks[%d]: name is required", i)
		}
		if names[t.Name] {
			return errors.Errorf("tasks[%d]: duplicate name %q", i, t.Name)
		}
		names[t.Name] = true
		if t.Program == "" {
			return errors.Errorf("tasks[%d]: program is required", i)
		}
		if t.StackSize < minStack {
			return errors.Errorf("tasks[%d]: stackSize %d is below the minimum %d", i, t.StackSize, minStack)
		}
	}
	for i, t := range cfg.Tasks {
		for _, s := range t.Signal {
			if !names[s.Task] {
				return errors.Errorf("tasks[%d]: signal targets unknown task %q", i, s.Task)
			}
			if !task.Flag(s.Flag).Valid() {
				return errors.Errorf("tasks[%d]: flag %d out of range", i, s.Flag)
			}
		}
	}
	return nil
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	return data, nil
}
