package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/gridchase/board"
	"github.com/wfunc/gridchase/network"
)

var directions = map[string]board.Direction{
	"left": board.Left, "a": board.Left,
	"right": board.Right, "d": board.Right,
	"up": board.Up, "w": board.Up,
	"down": board.Down, "s": board.Down,
}

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, payload interface{}) error {
	data := []byte{}
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	packet, err := network.EncodePacket(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

// command turns one input line into a frame. ok is false for unknown input.
func command(line string) (msgID uint16, payload interface{}, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, nil, false
	}
	switch fields[0] {
	case "create":
		if len(fields) < 2 {
			return 0, nil, false
		}
		req := network.CreateRequest{Username: fields[1], BoardType: board.RandomBoard}
		if len(fields) > 2 {
			req.BoardType = fields[2]
		}
		return network.MsgTypeCreate, req, true
	case "join":
		if len(fields) < 3 {
			return 0, nil, false
		}
		return network.MsgTypeJoin, network.JoinRequest{RoomCode: fields[1], Username: fields[2]}, true
	case "start":
		return network.MsgTypeStart, nil, true
	case "chat":
		text := strings.TrimSpace(strings.TrimPrefix(line, "chat"))
		return network.MsgTypeChat, network.ChatRequest{Text: text}, true
	}
	if dir, found := directions[fields[0]]; found {
		return network.MsgTypeMove, map[string]board.Direction{"direction": dir}, true
	}
	return 0, nil, false
}

func main() {
	addr := flag.String("addr", "localhost:3000", "server address")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.DecodePacket(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			log.Printf("<- RECV (ID: %d): %s", packet.MsgID, string(packet.Data))
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	log.Println("Commands: create <name> [board] | join <code> <name> | start | w/a/s/d | chat <text>")

	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			if err := send(c, network.MsgTypeHeartbeat, nil); err != nil {
				log.Println("Write error:", err)
				return
			}
		case line := <-lines:
			msgID, payload, ok := command(line)
			if !ok {
				log.Printf("Unknown command %q", line)
				continue
			}
			if err := send(c, msgID, payload); err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT (ID: %d)", msgID)
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
