package discovery

import (
	"sync"

	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// SerialQueue однопоточная очередь фоновых операций.
//
// Задачи выполняются строго последовательно одной горутиной. Паника
// внутри задачи перехватывается на границе задачи и логируется — фоновые
// задачи не имеют наблюдателя, который мог бы увидеть ошибку, и не должны
// ронять процесс.
type SerialQueue struct {
	name   string
	log    sipcore.Logger
	tasks  chan func()
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewSerialQueue создает очередь и запускает ее горутину
func NewSerialQueue(name string, log sipcore.Logger) *SerialQueue {
	q := &SerialQueue{
		name:  name,
		log:   log.WithComponent("queue-" + name),
		tasks: make(chan func(), 64),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *SerialQueue) run() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.execute(task)
	}
}

func (q *SerialQueue) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("паника в фоновой задаче", sipcore.F("panic", r))
		}
	}()
	task()
}

// Submit ставит задачу в очередь. Возвращает false, если очередь
// остановлена — задача отбрасывается, не накапливается.
func (q *SerialQueue) Submit(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warn("задача отброшена: очередь остановлена")
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		q.log.Warn("задача отброшена: очередь переполнена")
		return false
	}
}

// Stop останавливает очередь, дождавшись уже принятых задач
func (q *SerialQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}
