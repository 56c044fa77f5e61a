package portbridge

import (
	"fmt"
	"sync"
)

const (
	curveLinear = "linear"
	curveCubic  = "cubic"
)

// volumeCurve derives the effective volume of every stream type from its
// configured level, a master level and a system-wide response curve. Its
// volumeFor method is the VolumeProvider handed to the adapter, so every
// read goes through the RWMutex.
type volumeCurve struct {
	lock   sync.RWMutex
	levels [streamTypeCount]float32
	master float32
	shape  string
}

func newVolumeCurve(shape string) *volumeCurve {
	c := &volumeCurve{master: 1}
	for i := range c.levels {
		c.levels[i] = defaultStreamVolume
	}
	c.setShape(shape)
	return c
}

func (c *volumeCurve) setShape(shape string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	switch shape {
	case curveCubic:
		c.shape = curveCubic
	default:
		c.shape = curveLinear
	}
}

// set records the level requested for a stream type
func (c *volumeCurve) set(st StreamType, level float32) {
	if !st.Valid() || checkVolume(level) != nil {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.levels[st] = level
}

func (c *volumeCurve) setMaster(level float32) {
	if checkVolume(level) != nil {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.master = level
}

func (c *volumeCurve) level(st StreamType) float32 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.levels[st]
}

// volumeFor implements VolumeProvider.
func (c *volumeCurve) volumeFor(st StreamType) float32 {
	if !st.Valid() {
		return 0
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	v := c.levels[st] * c.master
	if c.shape == curveCubic {
		return v * v * v
	}
	return v
}

func (c *volumeCurve) String() string {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return fmt.Sprintf("<%s curve, master %.2f>", c.shape, c.master)
}
