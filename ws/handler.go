package ws

import (
	"net/http"
	"sync"

	"github.com/folkengine/goname"
	"github.com/gorilla/websocket"
	"github.com/socialnet/socialnet-chat/globals"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an incoming HTTP request and drives the connection until it
// closes. A connection that never authenticates stays a guest and only takes
// part in the public channel.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	// When this frame returns close the Websocket
	defer conn.Close() //nolint

	doneChan := make(chan struct{})
	guestNick := goname.New(goname.FantasyMap).FirstLast() + " (guest)"
	c := NewClient(hub, conn, guestNick, doneChan)

	// Add to the hub
	hub.Register <- c
	defer func() {
		hub.Unregister <- c
	}()
	c.Add(2)
	go c.ReadLoop()
	go c.WriteLoop()

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go c.SendHistory(hub.GetChatHistory(), wg)
	wg.Wait()
	<-doneChan
	globals.AppLogger.Debug("doneChan closed, exiting ws handler", "connection", c.ConnectionId)
}
