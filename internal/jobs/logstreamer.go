package jobs

import (
	"sync"

	"github.com/gorilla/websocket"
)

// LogStreamer fans live build log output out to websocket subscribers.
// Subscribers of builds that are already terminal only receive what the
// HTTP handler replays before subscribing.
type LogStreamer struct {
	mu          sync.RWMutex
	subscribers map[string][]*websocket.Conn
}

// NewLogStreamer creates an empty streamer.
func NewLogStreamer() *LogStreamer {
	return &LogStreamer{
		subscribers: make(map[string][]*websocket.Conn),
	}
}

// Subscribe registers conn for the build's log output.
func (ls *LogStreamer) Subscribe(buildID string, conn *websocket.Conn) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.subscribers[buildID] = append(ls.subscribers[buildID], conn)
}

// Unsubscribe removes conn from the build's subscriber list.
func (ls *LogStreamer) Unsubscribe(buildID string, conn *websocket.Conn) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	subs := ls.subscribers[buildID]
	for i, s := range subs {
		if s == conn {
			ls.subscribers[buildID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Broadcast sends a log chunk to every subscriber of the build. Write
// failures are ignored; the read loop in the handler notices the dead
// connection and unsubscribes it.
func (ls *LogStreamer) Broadcast(buildID string, chunk []byte) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	for _, conn := range ls.subscribers[buildID] {
		_ = conn.WriteMessage(websocket.TextMessage, chunk)
	}
}

// Close closes and drops all subscribers of the build.
func (ls *LogStreamer) Close(buildID string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, conn := range ls.subscribers[buildID] {
		conn.Close()
	}
	delete(ls.subscribers, buildID)
}
