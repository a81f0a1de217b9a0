package web

import "sync"

// hub раздаёт значения всем подписчикам. Медленный подписчик теряет значения,
// отправитель никогда не ждёт.
type hub[T any] struct {
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	buffer  int
}

func newHub[T any](buffer int) *hub[T] {
	return &hub[T]{clients: make(map[int]chan T), buffer: buffer}
}

// Subscribe добавляет клиента и возвращает канал для получения значений
func (h *hub[T]) Subscribe() (int, <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan T, h.buffer)
	h.clients[id] = ch
	return id, ch
}

// Unsubscribe удаляет клиента и закрывает его канал
func (h *hub[T]) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// Publish возвращает число клиентов, которым значение не поместилось в буфер
func (h *hub[T]) Publish(v T) (dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close отключает всех клиентов
func (h *hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}
