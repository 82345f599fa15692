package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jfima/amanu/pkg/logger"
)

// Event is one stage-transition notification pushed to SSE subscribers of a job.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type subscription struct {
	jobID   string
	channel chan Event
}

// Broadcaster fans out stage-transition events to SSE clients subscribed to a given job,
// adapted from the teacher's internal/sse/broadcaster.go (same register/unregister/broadcast
// channel shape) to carry pipeline stage events instead of transcription job events.
type Broadcaster struct {
	subscribers map[string]map[chan Event]bool
	register    chan subscription
	unregister  chan subscription
	broadcast   chan struct {
		jobID string
		event Event
	}
	shutdown chan struct{}
	mutex    sync.RWMutex
}

// NewBroadcaster starts the broadcaster's dispatch goroutine.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subscribers: make(map[string]map[chan Event]bool),
		register:    make(chan subscription),
		unregister:  make(chan subscription),
		broadcast: make(chan struct {
			jobID string
			event Event
		}),
		shutdown: make(chan struct{}),
	}
	go b.listen()
	return b
}

func (b *Broadcaster) listen() {
	for {
		select {
		case sub := <-b.register:
			b.mutex.Lock()
			if b.subscribers[sub.jobID] == nil {
				b.subscribers[sub.jobID] = make(map[chan Event]bool)
			}
			b.subscribers[sub.jobID][sub.channel] = true
			b.mutex.Unlock()

		case sub := <-b.unregister:
			b.mutex.Lock()
			if clients, ok := b.subscribers[sub.jobID]; ok {
				delete(clients, sub.channel)
				close(sub.channel)
				if len(clients) == 0 {
					delete(b.subscribers, sub.jobID)
				}
			}
			b.mutex.Unlock()

		case msg := <-b.broadcast:
			b.mutex.RLock()
			if clients, ok := b.subscribers[msg.jobID]; ok {
				for ch := range clients {
					select {
					case ch <- msg.event:
					default:
						logger.Warn("Skipping slow SSE client", "job_id", msg.jobID)
					}
				}
			}
			b.mutex.RUnlock()

		case <-b.shutdown:
			b.mutex.Lock()
			for _, clients := range b.subscribers {
				for ch := range clients {
					close(ch)
				}
			}
			b.subscribers = nil
			b.mutex.Unlock()
			return
		}
	}
}

// Shutdown stops the dispatch goroutine and closes every open client channel.
func (b *Broadcaster) Shutdown() { close(b.shutdown) }

// Broadcast notifies every subscriber of jobID.
func (b *Broadcaster) Broadcast(jobID, eventType string, payload any) {
	b.broadcast <- struct {
		jobID string
		event Event
	}{jobID: jobID, event: Event{Type: eventType, Payload: payload}}
}

// ServeSSE streams events for the job named by the "job_id" query parameter until the client
// disconnects, with a 30s keepalive heartbeat.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan Event)
	sub := subscription{jobID: jobID, channel: ch}
	b.register <- sub
	defer func() {
		select {
		case b.unregister <- sub:
		case <-b.shutdown:
		}
	}()

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"job_id\":\"%s\"}\n\n", jobID)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-time.After(30 * time.Second):
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
