package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"xau-engine/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage wraps a bus payload with its topic for the UI.
type wsMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// websocket streams engine events (trades, backtests, notifications) to a
// connected UI. This is a status feed, not a tick stream.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	merged := make(chan wsMessage, 100)
	var wg sync.WaitGroup
	done := make(chan struct{})
	defer close(done)

	for _, ev := range events.All() {
		stream, unsub := s.Bus.Subscribe(ev, 100)
		defer unsub()
		wg.Add(1)
		go func(ev events.Event, stream <-chan any) {
			defer wg.Done()
			for msg := range stream {
				select {
				case merged <- wsMessage{Event: string(ev), Payload: msg}:
				case <-done:
					return
				}
			}
		}(ev, stream)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for msg := range merged {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
