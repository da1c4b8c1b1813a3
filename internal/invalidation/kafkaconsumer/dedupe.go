package kafkaconsumer

import (
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"
)

// redeliveryFilter remembers the last applied offset per topic partition.
// Offsets only grow within a partition, so a message at or below that offset
// is one this process already applied, typically replayed after a rebalance
// before the commit landed. Event timestamps play no part: producers may
// send out of order and every delivery is a real change.
type redeliveryFilter struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newRedeliveryFilter(size int) *redeliveryFilter {
	if size <= 0 {
		size = 1024
	}
	c, _ := lru.New[string, int64](size)
	return &redeliveryFilter{lru: c}
}

func partitionKey(msg *sarama.ConsumerMessage) string {
	return msg.Topic + "/" + strconv.FormatInt(int64(msg.Partition), 10)
}

func (f *redeliveryFilter) redelivered(msg *sarama.ConsumerMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.lru.Get(partitionKey(msg))
	return ok && msg.Offset <= last
}

func (f *redeliveryFilter) applied(msg *sarama.ConsumerMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := partitionKey(msg)
	if last, ok := f.lru.Get(k); ok && msg.Offset <= last {
		return
	}
	f.lru.Add(k, msg.Offset)
}
