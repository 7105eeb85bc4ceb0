package reactor

import (
	"container/heap"
	"time"

	"github.com/eapache/queue"
)

type timerEntry struct {
	at time.Time
	t  Timer
}

// timerQueue 按触发时间升序排列定时器；同一时间点的条目放在同一个
// FIFO 桶中，保持插入顺序。
// 键为相对 base 的偏移，与 Wait 计算超时使用同一时钟读数（有单调时钟时取单调时钟），
// 墙上时间跳变不影响排序与到期判断。
type timerQueue struct {
	base    time.Time
	keys    keyHeap                        // 不重复的触发偏移
	buckets map[time.Duration]*queue.Queue // 触发偏移 -> *timerEntry FIFO
	n       int
}

func newTimerQueue(base time.Time) *timerQueue {
	return &timerQueue{base: base, buckets: make(map[time.Duration]*queue.Queue)}
}

func (q *timerQueue) Len() int { return q.n }

func (q *timerQueue) push(at time.Time, t Timer) {
	k := at.Sub(q.base)
	b, ok := q.buckets[k]
	if !ok {
		b = queue.New()
		q.buckets[k] = b
		heap.Push(&q.keys, k)
	}
	b.Add(&timerEntry{at: at, t: t})
	q.n++
}

// next 返回最早的触发时间
func (q *timerQueue) next() (time.Time, bool) {
	if len(q.keys) == 0 {
		return time.Time{}, false
	}
	b := q.buckets[q.keys[0]]
	return b.Peek().(*timerEntry).at, true
}

// popDue 取出所有触发时间 <= now 的条目，按时间升序、同时间按插入顺序追加到 dst。
func (q *timerQueue) popDue(now time.Time, dst []*timerEntry) []*timerEntry {
	limit := now.Sub(q.base)
	before := len(dst)
	for len(q.keys) > 0 && q.keys[0] <= limit {
		k := heap.Pop(&q.keys).(time.Duration)
		b := q.buckets[k]
		delete(q.buckets, k)
		for b.Length() > 0 {
			dst = append(dst, b.Remove().(*timerEntry))
		}
	}
	q.n -= len(dst) - before
	return dst
}

type keyHeap []time.Duration

func (h keyHeap) Len() int           { return len(h) }
func (h keyHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h keyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *keyHeap) Push(x any)        { *h = append(*h, x.(time.Duration)) }
func (h *keyHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
