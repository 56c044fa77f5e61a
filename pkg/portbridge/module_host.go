package portbridge

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PortConfig describes one port to load at startup.
type PortConfig struct {
	Driver string `mapstructure:"driver"`
	Args   string `mapstructure:"args"`
}

// moduleHost plays the audio server's part for the modules this process
// loads itself: it runs each module's lifecycle and unloads them in reverse.
type moduleHost struct {
	logger   *zap.SugaredLogger
	adapter  ServiceAdapter
	notifier Notifier

	lock    sync.Mutex
	modules []*Module
}

func newModuleHost(logger *zap.SugaredLogger, adapter ServiceAdapter, notifier Notifier) *moduleHost {
	logger = logger.Named("modules")

	h := &moduleHost{
		logger:   logger,
		adapter:  adapter,
		notifier: notifier,
	}

	logger.Debug("Created module host instance")
	return h
}

// load runs one module's Init. A failed module is torn down and not kept.
func (h *moduleHost) load(port PortConfig) (*Module, error) {
	module := NewModule(h.logger, h.adapter, port.Driver)

	if err := module.Init(port.Args); err != nil {
		// the host always follows a failed init with teardown
		module.Teardown()

		h.logger.Warnw("Failed to load module", "driver", port.Driver, "args", port.Args,
			"code", CodeOf(err), "status", InitStatus(err))
		h.notifier.Notify("Failed to open audio port!",
			fmt.Sprintf("%s %s: %v", module.driver, port.Args, err))
		return nil, err
	}

	h.lock.Lock()
	h.modules = append(h.modules, module)
	h.lock.Unlock()

	return module, nil
}

// loadAll loads every configured port, continuing past failures.
func (h *moduleHost) loadAll(ports []PortConfig) error {
	var errs error

	for _, port := range ports {
		if _, err := h.load(port); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	h.logger.Infow("Loaded configured ports", "requested", len(ports), "modules", h)
	return errs
}

// unloadAll tears down every loaded module, newest first.
func (h *moduleHost) unloadAll() {
	h.lock.Lock()
	modules := h.modules
	h.modules = nil
	h.lock.Unlock()

	for i := len(modules) - 1; i >= 0; i-- {
		modules[i].Teardown()
	}

	if len(modules) > 0 {
		h.logger.Debugw("Unloaded all modules", "count", len(modules))
	}
}

// reload replaces the loaded modules with the given port list.
func (h *moduleHost) reload(ports []PortConfig) error {
	h.unloadAll()
	return h.loadAll(ports)
}

// usage reports the consumer count of every loaded module by handle.
func (h *moduleHost) usage() map[PortHandle]int {
	h.lock.Lock()
	defer h.lock.Unlock()

	result := make(map[PortHandle]int, len(h.modules))
	for _, module := range h.modules {
		count, err := module.UsageCount()
		if err != nil {
			continue
		}
		handle, _ := module.Handle()
		result[handle] = count
	}
	return result
}

func (h *moduleHost) len() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.modules)
}

func (h *moduleHost) String() string {
	return fmt.Sprintf("<%d loaded modules>", h.len())
}
