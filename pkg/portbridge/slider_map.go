package portbridge

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/thoas/go-funk"
)

// masterTarget maps a slider to the master level of the volume curve
const masterTarget = "master"

// sliderMap assigns each hardware slider the stream types it controls
type sliderMap struct {
	m    map[int][]string
	lock sync.RWMutex
}

func newSliderMap() *sliderMap {
	return &sliderMap{
		m: make(map[int][]string),
	}
}

// sliderMapFromConfig builds a sliderMap from the configured mapping,
// lowercasing targets and dropping empty and duplicate ones.
func sliderMapFromConfig(mapping map[string][]string) *sliderMap {
	resultMap := newSliderMap()

	for sliderIdxString, targets := range mapping {
		sliderIdx, err := strconv.Atoi(sliderIdxString)
		if err != nil {
			continue
		}

		normalized := funk.Map(targets, func(s string) string {
			return strings.ToLower(strings.TrimSpace(s))
		}).([]string)

		resultMap.set(sliderIdx, funk.UniqString(funk.FilterString(normalized, func(s string) bool {
			return s != ""
		})))
	}

	return resultMap
}

// iterate runs the provided function on each slider in the map.
func (m *sliderMap) iterate(f func(int, []string)) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	for key, value := range m.m {
		f(key, value)
	}
}

func (m *sliderMap) get(key int) ([]string, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	value, ok := m.m[key]
	return value, ok
}

func (m *sliderMap) set(key int, value []string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.m[key] = value
}

func (m *sliderMap) String() string {
	if m == nil {
		return "<no sliders mapped>"
	}

	m.lock.RLock()
	defer m.lock.RUnlock()

	sliderCount := len(m.m)
	targetCount := 0

	for _, targets := range m.m {
		targetCount += len(targets)
	}

	return fmt.Sprintf("<%d sliders mapped to %d targets>", sliderCount, targetCount)
}
