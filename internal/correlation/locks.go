package correlation

import (
	"hash/fnv"
	"sync"
)

// keyedMutex provides per-key serialization via lock striping. Unrelated
// fingerprints stay independent; two deliveries with the same fingerprint
// always contend for the same stripe.
type keyedMutex struct {
	stripes []sync.Mutex
}

func newKeyedMutex(stripes int) *keyedMutex {
	if stripes <= 0 {
		stripes = 64
	}
	return &keyedMutex{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	m.Lock()
	return m.Unlock
}
