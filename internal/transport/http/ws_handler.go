package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/pubsub"
)

// Gateway terminates client WebSocket connections, binds each socket to the
// quiz channel it cares about and relays every bus envelope to the locally
// attached sockets. It never mutates quiz state itself.
type Gateway struct {
	service      *app.QuizService
	bus          pubsub.Bus
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	mu       sync.Mutex
	channels map[string]*quizChannel
	conns    map[*client]struct{}
}

// quizChannel groups the local sockets of one quiz together with the bus
// subscription feeding them.
type quizChannel struct {
	sockets map[*client]struct{}
	cancel  func()
}

type client struct {
	conn     *websocket.Conn
	send     chan domain.Envelope
	quizName string // registered quiz, empty until Connect
	alive    atomic.Bool

	sendMu sync.Mutex
	closed bool
}

type inboundMessage struct {
	Step    string          `json:"step"`
	Payload json.RawMessage `json:"payload"`
}

type connectPayload struct {
	QuizName string `json:"quizName"`
}

func NewGateway(service *app.QuizService, bus pubsub.Bus, pingInterval time.Duration) *Gateway {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Gateway{
		service: service,
		bus:     bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingInterval: pingInterval,
		channels:     make(map[string]*quizChannel),
		conns:        make(map[*client]struct{}),
	}
}

// Run attaches the gateway to the global channel until ctx is done. Global
// envelopes reach every connected socket regardless of quiz registration.
func (g *Gateway) Run(ctx context.Context) error {
	ch, cancel, err := g.bus.Subscribe(ctx, pubsub.GlobalChannel)
	if err != nil {
		return err
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			g.mu.Lock()
			for c := range g.conns {
				c.enqueue(env)
			}
			g.mu.Unlock()
		}
	}
}

// ServeWS upgrades the request and runs the connection's read loop.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan domain.Envelope, 32)}
	c.alive.Store(true)
	conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()

	go g.writePump(c)

	active, err := g.service.ActiveQuizzes(r.Context())
	if err != nil {
		log.Printf("ws: listing active quizzes: %v", err)
	}
	c.enqueue(domain.Success(domain.StepConnected, map[string]any{"activeQuizzes": active}))

	g.readPump(r.Context(), c)
}

func (g *Gateway) readPump(ctx context.Context, c *client) {
	defer g.drop(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Malformed input is reported back, never a reason to close.
			c.enqueue(domain.Failed(domain.StepConnected, map[string]any{"message": "malformed message"}))
			continue
		}
		g.dispatch(ctx, c, msg)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *client, msg inboundMessage) {
	switch msg.Step {
	case "Connect":
		var payload connectPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.enqueue(domain.Failed(msg.Step, map[string]any{"message": "malformed payload"}))
			return
		}
		g.register(ctx, c, payload.QuizName)
	case "Disconnect":
		g.unregister(c)
	case "GetPlayers":
		if c.quizName == "" {
			c.enqueue(domain.Failed(msg.Step, map[string]any{"message": "not connected to a quiz"}))
			return
		}
		members, err := g.service.Members(ctx, c.quizName)
		if err != nil {
			c.enqueue(domain.Failed(msg.Step, map[string]any{"message": err.Error()}))
			return
		}
		c.enqueue(domain.Success(domain.StepAllPlayers, map[string]any{"members": members}))
	default:
		c.enqueue(domain.Failed(msg.Step, map[string]any{"message": "unknown step"}))
	}
}

// register binds the socket to the quiz's local channel list, creating the
// bus subscription when this is the first local socket of that quiz. An
// unknown quiz name is silently ignored.
func (g *Gateway) register(ctx context.Context, c *client, quizName string) {
	if _, err := g.service.GetQuiz(ctx, quizName); err != nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if c.quizName != "" {
		g.removeLocked(c)
	}

	channel, ok := g.channels[quizName]
	if !ok {
		ch, cancel, err := g.bus.Subscribe(context.Background(), pubsub.QuizChannel(quizName))
		if err != nil {
			log.Printf("ws: subscribing to %q: %v", quizName, err)
			return
		}
		channel = &quizChannel{sockets: make(map[*client]struct{}), cancel: cancel}
		g.channels[quizName] = channel
		go g.fanOut(quizName, ch)
	}
	channel.sockets[c] = struct{}{}
	c.quizName = quizName
}

// fanOut relays every envelope of a quiz channel to the sockets registered
// locally at delivery time. Sockets that are no longer open are skipped.
func (g *Gateway) fanOut(quizName string, ch <-chan domain.Envelope) {
	for env := range ch {
		g.mu.Lock()
		channel, ok := g.channels[quizName]
		if !ok {
			g.mu.Unlock()
			return
		}
		for c := range channel.sockets {
			c.enqueue(env)
		}
		g.mu.Unlock()
	}
}

// unregister removes the socket from its quiz channel. Lookup is by socket
// identity, not an externally supplied id, so stale registrations cannot
// accumulate.
func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(c)
}

func (g *Gateway) removeLocked(c *client) {
	if c.quizName == "" {
		return
	}
	channel, ok := g.channels[c.quizName]
	if ok {
		delete(channel.sockets, c)
		if len(channel.sockets) == 0 {
			channel.cancel()
			delete(g.channels, c.quizName)
		}
	}
	c.quizName = ""
}

// drop fully detaches a socket after its read loop ends.
func (g *Gateway) drop(c *client) {
	g.mu.Lock()
	g.removeLocked(c)
	delete(g.conns, c)
	g.mu.Unlock()
	c.closeSend()
	_ = c.conn.Close()
}

// writePump serializes all writes for one socket and enforces liveness: a
// socket that did not answer the previous ping is force-closed with a policy
// violation on the next tick.
func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if !c.alive.Swap(false) {
				deadline := time.Now().Add(time.Second)
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "ping timeout"), deadline)
				_ = c.conn.Close()
				return
			}
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

// enqueue delivers an envelope to the socket's writer, dropping it when the
// socket is closed or its buffer is full.
func (c *client) enqueue(env domain.Envelope) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- env:
	default:
	}
}

func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
