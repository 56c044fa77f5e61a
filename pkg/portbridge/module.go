package portbridge

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultPortDriver is the server module loaded for a port when none is configured.
const DefaultPortDriver = "module-null-source"

// Module owns exactly one audio port for as long as it is loaded. A host
// calls Init, then any number of UsageCount queries, then Teardown, one
// at a time.
type Module struct {
	logger  *zap.SugaredLogger
	adapter ServiceAdapter
	driver  string

	args   *PortArgs
	handle PortHandle
	loaded bool
}

// NewModule creates an unloaded module that will open its port through adapter.
func NewModule(logger *zap.SugaredLogger, adapter ServiceAdapter, driver string) *Module {
	if driver == "" {
		driver = DefaultPortDriver
	}

	return &Module{
		logger:  logger.Named("module"),
		adapter: adapter,
		driver:  driver,
		handle:  InvalidPortHandle,
	}
}

// Init parses the module argument and opens the port. On failure nothing
// stays open: Teardown has already run by the time the error is returned.
func (m *Module) Init(argument string) error {
	if m.loaded {
		return fmt.Errorf("init module: port %d already open: %w", m.handle, ErrPortOpen)
	}

	args, err := ParsePortArgs(argument)
	if err != nil {
		m.logger.Warnw("Failed to parse module arguments", "argument", argument, "error", err)
		m.Teardown()
		return fmt.Errorf("init module: %w", err)
	}
	m.args = args

	handle, err := m.adapter.OpenPort(m.driver, args.ModuleArgs())
	if err != nil {
		m.logger.Warnw("Failed to open port", "driver", m.driver, "args", args, "error", err)
		m.Teardown()
		return fmt.Errorf("init module: %w", err)
	}

	m.handle = handle
	m.loaded = true

	m.logger.Infow("Module loaded", "port", handle, "driver", m.driver, "name", args.Name())
	return nil
}

// UsageCount returns how many consumers are bound to the module's port.
func (m *Module) UsageCount() (int, error) {
	if !m.loaded {
		return 0, fmt.Errorf("usage query on unloaded module: %w", ErrInvalidHandle)
	}

	count, err := m.adapter.UsageCount(m.handle)
	if err != nil {
		m.logger.Warnw("Failed to query port usage", "port", m.handle, "error", err)
		return 0, fmt.Errorf("query port usage: %w", err)
	}
	return count, nil
}

// Teardown closes the port if one was opened. It is safe to call on a
// module whose Init failed or never ran.
func (m *Module) Teardown() {
	if !m.loaded {
		m.logger.Debug("Nothing to tear down")
		return
	}

	handle := m.handle
	m.handle = InvalidPortHandle
	m.loaded = false

	if err := m.adapter.ClosePort(handle); err != nil {
		m.logger.Warnw("Failed to close port during teardown", "port", handle, "error", err)
		return
	}

	m.logger.Infow("Module unloaded", "port", handle)
}

// Handle returns the open port's handle, if any.
func (m *Module) Handle() (PortHandle, bool) {
	return m.handle, m.loaded
}

// Args returns the arguments of the last successful parse.
func (m *Module) Args() *PortArgs {
	return m.args
}

func (m *Module) String() string {
	if !m.loaded {
		return fmt.Sprintf("<module %s: unloaded>", m.driver)
	}
	return fmt.Sprintf("<module %s: port %d>", m.driver, m.handle)
}
