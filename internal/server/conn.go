package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Extra-Chill/plasma-bridge/internal/guard"
	"github.com/Extra-Chill/plasma-bridge/internal/protocol"
	"github.com/Extra-Chill/plasma-bridge/internal/session"
	"github.com/Extra-Chill/plasma-bridge/internal/shell"
	"github.com/Extra-Chill/plasma-bridge/internal/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	outboundQueue = 64
	jobQueue      = 64
)

// conn is one dashboard connection. It owns an owner session, a shell and a
// telemetry poller, all of which die with it.
type conn struct {
	id     string
	addr   string
	srv    *Server
	ws     *websocket.Conn
	owner  *session.Owner
	shell  *shell.Session
	poller *telemetry.Poller
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte
	jobs   chan protocol.Message

	closeOnce sync.Once
	notify    bool
	wg        sync.WaitGroup
}

func newConn(s *Server, ws *websocket.Conn, addr string) (*conn, error) {
	sh, err := shell.Start(*s.config.Shell)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:     uuid.NewString(),
		addr:   addr,
		srv:    s,
		ws:     ws,
		owner:  session.NewOwner(s.config.OwnerID),
		shell:  sh,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan []byte, outboundQueue),
		jobs:   make(chan protocol.Message, jobQueue),
	}
	c.log = s.logger.With().Str("conn", c.id).Str("addr", addr).Logger()
	c.poller = &telemetry.Poller{
		Interval: s.config.StatsInterval,
		Sampler:  s.config.Sampler,
		Verified: c.owner.Verified,
		Emit:     c.emitStats,
		Logger:   c.log,
	}
	return c, nil
}

// run blocks until the connection is gone and every resource it owns has
// been released.
func (c *conn) run() {
	c.log.Info().Int("shell_pid", c.shell.PID()).Msg("connection established")

	c.goroutine(c.writeLoop)
	c.goroutine(c.workLoop)
	c.goroutine(func() { c.poller.Run(c.ctx) })
	c.goroutine(func() {
		err := c.shell.Stream(func(p []byte) {
			c.send(protocol.EventTerminalOutput, string(p))
		})
		c.log.Debug().AnErr("reason", err).Msg("shell output closed")
	})

	c.readLoop()

	c.terminate(false)
	if err := c.shell.Close(); err != nil {
		c.log.Warn().Err(err).Msg("shell close")
	}
	c.wg.Wait()
	c.log.Info().Msg("connection closed")
}

func (c *conn) goroutine(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// terminate cancels the connection. With notify set the generic failure
// notice is written before the socket closes. Only the first call counts.
func (c *conn) terminate(notify bool) {
	c.closeOnce.Do(func() {
		c.notify = notify
		c.cancel()
	})
}

// send queues an outbound frame. Frames sent after teardown are dropped.
func (c *conn) send(event string, data any) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	select {
	case c.out <- frame:
	case <-c.ctx.Done():
	}
}

func (c *conn) fail() {
	c.send(protocol.EventError, protocol.ActionFailed)
}

func (c *conn) readLoop() {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.ctx.Err() == nil {
				c.log.Debug().Err(err).Msg("read")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if !c.handleFrame(frame) {
			return
		}
	}
}

// handleFrame decodes and admits one inbound frame. It returns false when
// the connection must close.
func (c *conn) handleFrame(frame []byte) bool {
	msg := protocol.Decode(frame)

	if msg.Event != protocol.EventVerifyOwner && !c.owner.Verified() {
		c.log.Debug().Str("event", msg.Event).Msg("dropped before verification")
		return true
	}

	decision, reason := c.srv.config.Guard.Admit(c.addr, msg)
	switch decision {
	case guard.DenySilent:
		c.log.Warn().Str("event", msg.Event).Str("reason", string(reason)).Msg("denied")
		c.terminate(false)
		return false
	case guard.DenyNotify:
		c.log.Warn().Str("event", msg.Event).Str("reason", string(reason)).Err(msg.Validate()).Msg("denied and blacklisted")
		c.terminate(true)
		return false
	}

	// Session and terminal events run inline; everything else goes to the worker.
	switch p := msg.Payload.(type) {
	case *protocol.VerifyOwner:
		return c.verifyOwner(p)
	case *protocol.TerminalInput:
		c.terminalInput(p)
		return true
	case *protocol.TerminalResize:
		c.terminalResize(p)
		return true
	}

	select {
	case c.jobs <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// verifyOwner runs on the reader, so the state seen before Verify cannot
// change underneath it. Only the first success pushes an immediate sample.
func (c *conn) verifyOwner(p *protocol.VerifyOwner) bool {
	first := !c.owner.Verified()
	if !c.owner.Verify(p.UserID) {
		c.log.Warn().Str("reason", string(guard.ReasonIdentity)).Msg("denied and blacklisted")
		c.srv.config.Guard.Reject(c.addr)
		c.terminate(true)
		return false
	}
	c.log.Info().Bool("repeat", !first).Msg("owner verified")
	c.send(protocol.EventOwnerVerified, nil)
	if first {
		c.goroutine(func() { c.poller.Tick(c.ctx) })
	}
	return true
}

func (c *conn) terminalInput(p *protocol.TerminalInput) {
	if _, err := c.shell.Write([]byte(p.Data)); err != nil {
		c.log.Debug().Err(err).Msg("terminal input")
	}
}

func (c *conn) terminalResize(p *protocol.TerminalResize) {
	if err := c.shell.Resize(uint16(p.Cols), uint16(p.Rows)); err != nil {
		c.log.Debug().Err(err).Msg("terminal resize")
	}
}

func (c *conn) workLoop() {
	for {
		select {
		case msg := <-c.jobs:
			c.dispatch(msg)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.out:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write")
				c.terminate(false)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.terminate(false)
				return
			}
		case <-c.ctx.Done():
			if c.notify {
				if frame, err := protocol.Encode(protocol.EventError, protocol.ActionFailed); err == nil {
					c.write(websocket.TextMessage, frame)
				}
			}
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *conn) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) emitStats(s telemetry.Stats) {
	c.send(protocol.EventSysStats, protocol.SysStats{
		CPU:      s.CPU(),
		MemUsed:  s.MemUsedGiB(),
		MemTotal: s.MemTotalGiB(),
		Platform: s.Platform,
		Distro:   s.Distro,
	})
}
