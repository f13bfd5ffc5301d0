package stream

func newQueue() *queue {
	return &queue{}
}

// queue is a FIFO of received chunks. The transport delivers chunks in
// order, so no reordering happens here, only buffering between the push
// side and a slower consumer.
type queue struct {
	head *node
	tail *node
	size int
}

type node struct {
	next  *node
	chunk []byte
}

func (q *queue) push(chunk []byte) {
	n := &node{chunk: chunk}
	if q.tail == nil {
		q.head = n
	} else {
		q.tail.next = n
	}
	q.tail = n
	q.size++
}

func (q *queue) pop() ([]byte, bool) {
	if q.head == nil {
		return nil, false
	}
	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.size--
	return n.chunk, true
}

func (q *queue) len() int {
	return q.size
}
