package finding

import (
	"hash/fnv"
	"sync"
)

// writeLocks serializes every finding writer, synthesizer merges and
// service transitions alike, on the finding's fingerprint.
var writeLocks = newKeyedMutex(64)

// keyedMutex serializes work per fingerprint using a fixed set of lock
// stripes so unrelated fingerprints do not contend.
type keyedMutex struct {
	stripes []sync.Mutex
}

func newKeyedMutex(n int) *keyedMutex {
	if n <= 0 {
		n = 64
	}
	return &keyedMutex{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	m.Lock()
	return m.Unlock
}
