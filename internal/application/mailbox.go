package app

import "sync"

// mailbox одноместный почтовый ящик: новое значение замещает непрочитанное.
// Put никогда не блокируется, Take блокируется до появления значения или закрытия.
type mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  T
	full   bool
	closed bool
}

func newMailbox[T any]() *mailbox[T] {
	m := &mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put кладёт значение. Возвращает true, если непрочитанное значение было замещено.
func (m *mailbox[T]) Put(v T) (dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return true
	}
	dropped = m.full
	m.value = v
	m.full = true
	m.cond.Signal()
	return dropped
}

// Take забирает значение. После закрытия возвращает false.
func (m *mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.full && !m.closed {
		m.cond.Wait()
	}

	var zero T
	if m.closed {
		m.value = zero
		m.full = false
		return zero, false
	}

	v := m.value
	m.value = zero
	m.full = false
	return v, true
}

// Close будит читателя; последующие Put игнорируются
func (m *mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// queue неограниченная FIFO-очередь для решений: Push не блокируется и ничего не теряет.
// После Close читатель дочитывает оставшиеся элементы.
type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, v)
	q.cond.Signal()
}

// Pop возвращает false только когда очередь закрыта и пуста
func (q *queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
