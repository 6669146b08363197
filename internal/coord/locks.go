package coord

import (
	"hash/fnv"
	"sort"
	"sync"
)

const lockStripes = 64

// stripedLock serializes operations on a keyed resource with a fixed pool of
// mutexes. Multi-key acquisition locks stripes in ascending order so two
// callers can never hold each other's stripe while waiting.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func stripeFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % lockStripes)
}

func (l *stripedLock) lock(key string) func() {
	i := stripeFor(key)
	l.stripes[i].Lock()
	return l.stripes[i].Unlock
}

// lockAll acquires the stripes covering keys and returns a single unlock.
func (l *stripedLock) lockAll(keys ...string) func() {
	seen := make(map[int]bool, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := stripeFor(k)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.stripes[idx[j]].Unlock()
		}
	}
}

// taskLock serializes per-task operations.
type taskLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *taskLock) lock(taskID uint64) func() {
	i := int(taskID % lockStripes)
	l.stripes[i].Lock()
	return l.stripes[i].Unlock
}
