package netdev

import (
	"bytes"
	"testing"
)

func TestSendQueueEnqueueDequeuePreservesFrameBoundaries(t *testing.T) {
	q := NewSendQueue(64)
	if !q.Enqueue([]byte("abc")) {
		t.Fatal("expected enqueue to succeed")
	}
	if !q.Enqueue([]byte("de")) {
		t.Fatal("expected enqueue to succeed")
	}
	got, ok := q.Dequeue()
	if !ok || !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("expected first frame %q, got %q ok=%v", "abc", got, ok)
	}
	got, ok = q.Dequeue()
	if !ok || !bytes.Equal(got, []byte("de")) {
		t.Fatalf("expected second frame %q, got %q ok=%v", "de", got, ok)
	}
}

func TestSendQueueEnqueueFailsWhenFull(t *testing.T) {
	q := NewSendQueue(8)
	if !q.Enqueue([]byte("ab")) {
		t.Fatal("expected first small enqueue to fit")
	}
	if q.Enqueue([]byte("this frame does not fit")) {
		t.Fatal("expected enqueue to fail once capacity is exceeded")
	}
}

func TestSendQueueCloseUnblocksDequeue(t *testing.T) {
	q := NewSendQueue(8)
	q.Close()
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected Dequeue to report closed, empty queue")
	}
}
