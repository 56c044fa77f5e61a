package portbridge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getlantern/systray"
	"go.uber.org/zap"

	"github.com/retr0680/portbridge/pkg/portbridge/util"
)

func (b *Bridge) initializeTray(onDone func()) {
	logger := b.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")
		b.trayRunning = true

		systray.SetTitle("portbridge")
		systray.SetTooltip(fmt.Sprintf("portbridge: %s", b.modules))

		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with your text editor")
		reloadPorts := systray.AddMenuItem("Reopen audio ports", "Close and reopen every configured port")
		showUsage := systray.AddMenuItem("Show port usage", "Show how many streams use each open port")

		if b.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(b.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Close every port and quit")

		go b.handleTrayActions(logger, editConfig, reloadPorts, showUsage, quit)

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (b *Bridge) handleTrayActions(logger *zap.SugaredLogger, editConfig, reloadPorts, showUsage, quit *systray.MenuItem) {
	for {
		select {
		case <-quit.ClickedCh:
			logger.Info("Quit menu item clicked, stopping")
			b.signalStop()

		case <-editConfig.ClickedCh:
			logger.Info("Edit config menu item clicked, opening config for editing")

			if err := util.StartDetached(logger, getEditor(), b.config.configFilepath); err != nil {
				logger.Warnw("Failed to open config file for editing", "error", err)
			}

		case <-reloadPorts.ClickedCh:
			logger.Info("Reopen ports menu item clicked, requesting port reload")
			b.requestPortReload()

		case <-showUsage.ClickedCh:
			summary := b.usageSummary()
			logger.Infow("Port usage requested", "usage", summary)
			b.notifier.Notify("Audio port usage", summary)
		}
	}
}

// usageSummary describes how many consumers each open port has
func (b *Bridge) usageSummary() string {
	usage := b.modules.usage()
	if len(usage) == 0 {
		return "No ports are open."
	}

	handles := make([]PortHandle, 0, len(usage))
	for handle := range usage {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	lines := make([]string, 0, len(handles))
	for _, handle := range handles {
		lines = append(lines, fmt.Sprintf("port %d: %d consumers", handle, usage[handle]))
	}
	return strings.Join(lines, "\n")
}

func getEditor() string {
	if util.RunningOnLinux() {
		return "xdg-open"
	}
	return "notepad.exe"
}

func (b *Bridge) stopTray() {
	if !b.trayRunning {
		return
	}

	b.logger.Debug("Quitting tray")
	systray.Quit()
}
