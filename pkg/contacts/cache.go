package contacts

import (
	"hash/fnv"
	"sync"

	"github.com/arzzra/rcs_core/pkg/capability"
)

// shardCount количество шардов для распределения нагрузки
// КРИТИЧНО: должно быть степенью 2 для эффективного хэширования
const shardCount = 32

// recordShard один шард кэша со своим мьютексом
type recordShard struct {
	records map[string]Record
	blocked map[string]bool
	mutex   sync.RWMutex
}

// Cache потокобезопасный in-memory кэш записей о контактах с шардированием.
//
// Записи распределяются по шардам на основе FNV хэша идентичности
// контакта; каждый шард имеет независимый мьютекс, поэтому операции
// по разным контактам выполняются параллельно без глобальной блокировки.
type Cache struct {
	shards [shardCount]*recordShard
}

var _ ContactManager = (*Cache)(nil)

// NewCache создает пустой кэш
func NewCache() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = &recordShard{
			records: make(map[string]Record),
			blocked: make(map[string]bool),
		}
	}
	return c
}

func (c *Cache) getShard(peer string) *recordShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(peer))
	// Битовая операция вместо модуля: shardCount - степень 2
	return c.shards[hasher.Sum32()&(shardCount-1)]
}

// Get возвращает запись контакта
func (c *Cache) Get(peer string) (Record, bool) {
	shard := c.getShard(peer)
	shard.mutex.RLock()
	defer shard.mutex.RUnlock()

	rec, ok := shard.records[peer]
	return rec, ok
}

// Set заменяет снимок возможностей контакта целиком
func (c *Cache) Set(peer string, cap capability.Capability, status RcsStatus, reg RegistrationState) {
	shard := c.getShard(peer)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	rec := shard.records[peer]
	rec.Capability = cap
	rec.Status = status
	rec.Registration = reg
	shard.records[peer] = rec
}

// MergeCapabilities применяет merge функцию под блокировкой шарда
func (c *Cache) MergeCapabilities(peer string, status RcsStatus, reg RegistrationState, displayName string,
	merge func(old capability.Capability, existed bool) capability.Capability) {
	shard := c.getShard(peer)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	rec, existed := shard.records[peer]
	rec.Capability = merge(rec.Capability, existed)
	rec.Status = status
	rec.Registration = reg
	if displayName != "" {
		rec.DisplayName = displayName
	}
	shard.records[peer] = rec
}

// UpdateTimeOfLastRequest фиксирует момент отправки запроса
func (c *Cache) UpdateTimeOfLastRequest(peer string, ts int64) {
	shard := c.getShard(peer)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	rec, existed := shard.records[peer]
	if !existed {
		rec.Capability = capability.Default()
	}
	rec.Capability = capability.NewBuilderFrom(rec.Capability).
		TimestampOfLastRequest(ts).
		Build()
	shard.records[peer] = rec
}

// UpdateTimeOfLastResponse фиксирует момент получения ответа
func (c *Cache) UpdateTimeOfLastResponse(peer string, ts int64) {
	shard := c.getShard(peer)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	rec, existed := shard.records[peer]
	if !existed {
		rec.Capability = capability.Default()
	}
	rec.Capability = capability.NewBuilderFrom(rec.Capability).
		TimestampOfLastResponse(ts).
		Build()
	shard.records[peer] = rec
}

// MarkRequestedIfDue атомарная проверка свежести с отметкой запроса.
//
// Запрос пора отправлять если:
//   - записи о контакте еще нет
//   - последний запрос не выполнялся (сентинел)
//   - часы ушли назад относительно последнего запроса
//   - с последнего запроса прошло больше refreshTimeoutMs
func (c *Cache) MarkRequestedIfDue(peer string, now int64, refreshTimeoutMs int64) bool {
	shard := c.getShard(peer)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	rec, existed := shard.records[peer]
	if existed {
		last := rec.Capability.TimestampOfLastRequest()
		if last != capability.TimestampInvalid && now >= last && now-last < refreshTimeoutMs {
			return false
		}
	} else {
		rec.Capability = capability.Default()
	}
	rec.Capability = capability.NewBuilderFrom(rec.Capability).
		TimestampOfLastRequest(now).
		Build()
	shard.records[peer] = rec
	return true
}

// IsBlocked сообщает, заблокирован ли контакт
func (c *Cache) IsBlocked(peer string) bool {
	shard := c.getShard(peer)
	shard.mutex.RLock()
	defer shard.mutex.RUnlock()
	return shard.blocked[peer]
}

// SetBlocked помечает контакт заблокированным
func (c *Cache) SetBlocked(peer string, blocked bool) {
	shard := c.getShard(peer)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	shard.blocked[peer] = blocked
}

// Peers возвращает все известные контакты.
// Шарды читаются последовательно, итог собирается вне блокировок.
func (c *Cache) Peers() []string {
	var peers []string
	for i := range c.shards {
		c.shards[i].mutex.RLock()
		for peer := range c.shards[i].records {
			peers = append(peers, peer)
		}
		c.shards[i].mutex.RUnlock()
	}
	return peers
}

// Count возвращает общее количество записей
func (c *Cache) Count() int {
	count := 0
	for i := range c.shards {
		c.shards[i].mutex.RLock()
		count += len(c.shards[i].records)
		c.shards[i].mutex.RUnlock()
	}
	return count
}
