package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wfunc/gridchase/board"
	"github.com/wfunc/gridchase/logger"
	"github.com/wfunc/gridchase/models"
	"github.com/wfunc/gridchase/network"
	"github.com/wfunc/gridchase/session"
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventPacket
	eventDisconnect
	eventReap
	eventListRooms
)

type event struct {
	kind   eventKind
	sess   *session.Session
	packet *network.Packet
	reply  chan []models.RoomSummary
}

type moveRequest struct {
	Direction board.Direction `json:"direction"`
}

// Run handles events one at a time until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	logger.Log.Info("Coordinator loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Coordinator loop stopped")
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Coordinator) post(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) PostConnect(sess *session.Session) {
	c.post(context.Background(), event{kind: eventConnect, sess: sess})
}

func (c *Coordinator) PostPacket(sess *session.Session, packet *network.Packet) {
	c.post(context.Background(), event{kind: eventPacket, sess: sess, packet: packet})
}

func (c *Coordinator) PostDisconnect(sess *session.Session) {
	c.post(context.Background(), event{kind: eventDisconnect, sess: sess})
}

func (c *Coordinator) PostReap() {
	c.post(context.Background(), event{kind: eventReap})
}

func (c *Coordinator) dispatch(ev event) {
	switch ev.kind {
	case eventConnect:
		c.Connect(ev.sess)
	case eventPacket:
		c.HandlePacket(ev.sess, ev.packet)
	case eventDisconnect:
		c.Disconnect(ev.sess)
	case eventReap:
		c.Reap()
	case eventListRooms:
		ev.reply <- c.Rooms()
	}
}

// HandlePacket decodes one inbound frame and applies the intent it carries.
func (c *Coordinator) HandlePacket(sess *session.Session, packet *network.Packet) {
	start := time.Now()
	defer func() { c.monitor.ObserveMessageLatency(time.Since(start)) }()
	c.monitor.IncMessagesReceived()

	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		// activity is recorded by the reader
	case network.MsgTypeCreate:
		var req network.CreateRequest
		if c.decode(sess, packet, &req) {
			c.Create(sess, req.Username, req.BoardType)
		}
	case network.MsgTypeJoin:
		var req network.JoinRequest
		if c.decode(sess, packet, &req) {
			c.Join(sess, req.RoomCode, req.Username)
		}
	case network.MsgTypeStart:
		c.Start(sess)
	case network.MsgTypeMove:
		var req moveRequest
		if c.decode(sess, packet, &req) {
			c.Move(sess, req.Direction)
		}
	case network.MsgTypeChat:
		var req network.ChatRequest
		if c.decode(sess, packet, &req) {
			c.Chat(sess, req.Text)
		}
	default:
		logger.Log.Infof("Unknown message type %d from session %s", packet.MsgID, sess.GetID())
	}
}

func (c *Coordinator) decode(sess *session.Session, packet *network.Packet, v interface{}) bool {
	if err := json.Unmarshal(packet.Data, v); err != nil {
		logger.Log.Debugf("Malformed message %d from session %s: %v", packet.MsgID, sess.GetID(), err)
		return false
	}
	return true
}
