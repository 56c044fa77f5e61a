package portbridge

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

func newObservedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func newConnectedMemoryAdapter(t *testing.T, provider VolumeProvider) *MemoryAdapter {
	t.Helper()

	a := NewMemoryAdapter(newTestLogger(t), provider)
	if !a.Connect() {
		t.Fatal("memory adapter refused to connect")
	}
	return a
}

type recordingNotifier struct {
	lock   sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title, message string) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) count() int {
	n.lock.Lock()
	defer n.lock.Unlock()

	return len(n.titles)
}

// spyAdapter records the port calls that reach the wrapped adapter
type spyAdapter struct {
	ServiceAdapter

	openCalls  []string
	closeCalls []PortHandle
}

func (s *spyAdapter) OpenPort(name string, moduleArgs string) (PortHandle, error) {
	s.openCalls = append(s.openCalls, moduleArgs)
	return s.ServiceAdapter.OpenPort(name, moduleArgs)
}

func (s *spyAdapter) ClosePort(handle PortHandle) error {
	s.closeCalls = append(s.closeCalls, handle)
	return s.ServiceAdapter.ClosePort(handle)
}
