package portbridge

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/retr0680/portbridge/pkg/portbridge/util"
)

const (
	crashlogFilename        = "portbridge-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"
	crashMessageTemplate    = `-----------------------------------------------------------------
                     portbridge crashlog
-----------------------------------------------------------------
portbridge crashed. Ports it opened may still be loaded on the
audio server; check "pactl list modules short".
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

func (b *Bridge) recoverFromPanic() {
	r := recover()
	if r == nil {
		return
	}

	now := time.Now()
	crashlogPath := filepath.Join(logDirectory, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))

	if err := util.MakeDir(logDirectory); err != nil {
		panic(fmt.Errorf("ensure crashlog dir exists: %w", err))
	}

	crashlogBytes := []byte(fmt.Sprintf(crashMessageTemplate, now.Format(crashlogTimestampFormat), r, debug.Stack()))
	if err := os.WriteFile(crashlogPath, crashlogBytes, os.ModePerm); err != nil {
		panic(fmt.Errorf("write crashlog file: %w", err))
	}

	b.logger.Errorw("Encountered and logged panic, crashing",
		"crashlogPath", crashlogPath,
		"error", r)

	b.notifier.Notify("Unexpected crash occurred...",
		fmt.Sprintf("More details in %s", crashlogPath))

	b.logger.Sync()
	os.Exit(1)
}
