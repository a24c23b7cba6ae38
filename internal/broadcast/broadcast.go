// Package broadcast decouples core packages from the web server's
// websocket hub: the drop engine publishes events here without importing
// webserver, and webserver registers itself as the broadcaster at startup.
package broadcast

import "sync"

// Broadcaster delivers a message to every connected dashboard client.
type Broadcaster interface {
	BroadcastMessage(message interface{})
}

var (
	mu          sync.RWMutex
	broadcaster Broadcaster
)

// SetBroadcaster registers the active broadcaster.
func SetBroadcaster(b Broadcaster) {
	mu.Lock()
	defer mu.Unlock()
	broadcaster = b
}

// Send publishes a message. A no-op until a broadcaster is registered.
func Send(message interface{}) {
	mu.RLock()
	b := broadcaster
	mu.RUnlock()
	if b != nil {
		b.BroadcastMessage(message)
	}
}
