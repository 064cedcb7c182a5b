package message

import (
	"math/rand"
	"sync"
	"time"
)

var randMu sync.Mutex
var randSrc = rand.New(rand.NewSource(time.Now().UnixNano()))

// randFloat returns a float64 in (0,1), avoiding exact 0 so log() in the
// Box-Muller transform never sees a non-positive argument.
func randFloat() float64 {
	randMu.Lock()
	defer randMu.Unlock()
	v := randSrc.Float64()
	if v == 0 {
		v = 1e-12
	}
	return v
}
