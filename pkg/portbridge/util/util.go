package util

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"
)

// noise thresholds for slider level changes, keyed by noise_reduction setting
var levelNoiseThresholds = map[string]float64{
	"low":  0.015,
	"high": 0.035,
}

const defaultLevelNoiseThreshold = 0.025

// MakeDir creates path and any missing parents.
func MakeDir(path string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("make directory %s: %w", path, err)
	}
	return nil
}

// IsRegularFile reports whether path names an existing non-directory.
func IsRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// RunningOnLinux reports whether the binary was built for Linux.
func RunningOnLinux() bool {
	return runtime.GOOS == "linux"
}

// InterruptSignals delivers SIGINT and SIGTERM on the returned channel.
func InterruptSignals() chan os.Signal {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	return signals
}

// StartDetached launches program with a single argument and does not wait for it.
func StartDetached(logger *zap.SugaredLogger, program string, arg string) error {
	var command *exec.Cmd
	if RunningOnLinux() {
		command = exec.Command(program, arg)
	} else {
		command = exec.Command("cmd.exe", "/C", "start", "/b", program, arg)
	}

	if err := command.Start(); err != nil {
		logger.Warnw("Failed to start detached process", "program", program, "argument", arg, "error", err)
		return fmt.Errorf("start %s: %w", program, err)
	}
	return nil
}

// TruncateLevel drops everything past two decimals of a 0..1 level.
func TruncateLevel(level float32) float32 {
	return float32(math.Floor(float64(level)*100) / 100)
}

// LevelMoved reports whether a slider moved from previous to current by
// more than the noise threshold. Reaching either end always counts.
func LevelMoved(previous float32, current float32, noiseReduction string) bool {
	threshold, ok := levelNoiseThresholds[noiseReduction]
	if !ok {
		threshold = defaultLevelNoiseThreshold
	}

	if math.Abs(float64(previous-current)) >= threshold {
		return true
	}

	atEdge := func(level, edge float32) bool {
		return math.Abs(float64(level-edge)) < 1e-6
	}
	return (atEdge(current, 1) && previous != 1) || (atEdge(current, 0) && previous != 0)
}
