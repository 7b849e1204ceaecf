package saga

import (
	"container/list"
	"context"
	"sync"

	"github.com/draftea/order-system/shared/models"
)

const defaultDeliveryCacheSize = 10000

// DeliveryCache remembers recently committed deliveries so redeliveries are
// acknowledged without taking the saga lock. It is a fast path only; the
// store's processed-delivery record stays authoritative.
type DeliveryCache interface {
	Seen(ctx context.Context, correlationID models.ID, dedupKey string) (bool, error)
	Remember(ctx context.Context, correlationID models.ID, dedupKey string) error
}

// MemoryDeliveryCache is a bounded LRU of recent deliveries
type MemoryDeliveryCache struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

// NewMemoryDeliveryCache creates a cache holding at most size deliveries
func NewMemoryDeliveryCache(size int) *MemoryDeliveryCache {
	if size <= 0 {
		size = defaultDeliveryCacheSize
	}
	return &MemoryDeliveryCache{
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element, size),
	}
}

func deliveryKey(correlationID models.ID, dedupKey string) string {
	return correlationID.String() + "|" + dedupKey
}

func (c *MemoryDeliveryCache) Seen(_ context.Context, correlationID models.ID, dedupKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[deliveryKey(correlationID, dedupKey)]
	if ok {
		c.order.MoveToFront(elem)
	}
	return ok, nil
}

func (c *MemoryDeliveryCache) Remember(_ context.Context, correlationID models.ID, dedupKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := deliveryKey(correlationID, dedupKey)
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(key)
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(string))
	}
	return nil
}

// Len returns the number of remembered deliveries
func (c *MemoryDeliveryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
