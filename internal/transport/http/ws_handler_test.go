package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/pubsub"
)

func newTestGateway(t *testing.T) (*Gateway, *app.QuizService, *pubsub.MemoryBus) {
	t.Helper()
	bus := pubsub.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	service := app.NewQuizService(memory.NewQuizRepository(), memory.NewMemberRepository(), bus, app.Options{
		CountdownTick:    5 * time.Millisecond,
		WatchdogInterval: time.Hour,
	})
	return NewGateway(service, bus, time.Hour), service, bus
}

func dialGateway(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNext(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env domain.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func seedQuiz(t *testing.T, service *app.QuizService) {
	t.Helper()
	ctx := context.Background()
	quiz := domain.Quiz{
		Name: "demo",
		Questions: []domain.Question{{
			Type:    domain.SingleChoice,
			Text:    "pick the first",
			Options: []domain.AnswerOption{{Text: "right", IsCorrect: true}, {Text: "wrong"}},
		}},
	}
	if _, err := service.SaveQuiz(ctx, quiz); err != nil {
		t.Fatalf("save quiz: %v", err)
	}
	if err := service.InitQuiz(ctx, "demo"); err != nil {
		t.Fatalf("init quiz: %v", err)
	}
}

func TestServeWSGreetsWithActiveQuizzes(t *testing.T) {
	g, service, _ := newTestGateway(t)
	seedQuiz(t, service)

	conn := dialGateway(t, g)
	env := readNext(t, conn)
	if env.Status != domain.StatusSuccess || env.Step != domain.StepConnected {
		t.Fatalf("expected Connected greeting, got %+v", env)
	}
	payload := env.Payload.(map[string]any)
	active := payload["activeQuizzes"].([]any)
	if len(active) != 1 || active[0] != "demo" {
		t.Fatalf("expected active quiz list [demo], got %v", active)
	}
}

func TestConnectRelaysQuizEnvelopes(t *testing.T) {
	g, service, bus := newTestGateway(t)
	seedQuiz(t, service)

	conn := dialGateway(t, g)
	readNext(t, conn) // greeting

	err := conn.WriteJSON(map[string]any{"step": "Connect", "payload": map[string]any{"quizName": "demo"}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	// Registration creates exactly one bus subscription for the quiz channel.
	waitForSubscribers(t, bus, pubsub.QuizChannel("demo"), 1)

	_ = bus.Publish(context.Background(), pubsub.QuizChannel("demo"),
		domain.Success(domain.StepNextQuestion, map[string]any{"questionIndex": 0}))

	env := readNext(t, conn)
	if env.Step != domain.StepNextQuestion {
		t.Fatalf("expected relayed NextQuestion, got %+v", env)
	}
}

func waitForSubscribers(t *testing.T, bus *pubsub.MemoryBus, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := bus.SubscriberCount(context.Background(), channel)
		if err == nil && n == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers on %s, got %d", want, channel, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectUnknownQuizIsSilentlyIgnored(t *testing.T) {
	g, service, bus := newTestGateway(t)
	seedQuiz(t, service)

	conn := dialGateway(t, g)
	readNext(t, conn)

	_ = conn.WriteJSON(map[string]any{"step": "Connect", "payload": map[string]any{"quizName": "ghost"}})

	// Probe with a GetPlayers: the socket must still be unregistered.
	_ = conn.WriteJSON(map[string]any{"step": "GetPlayers"})
	env := readNext(t, conn)
	if env.Status != domain.StatusFailed {
		t.Fatalf("expected failure for unregistered socket, got %+v", env)
	}
	if n, _ := bus.SubscriberCount(context.Background(), pubsub.QuizChannel("ghost")); n != 0 {
		t.Fatalf("unknown quiz must not create a subscription, got %d", n)
	}
}

func TestGetPlayersReturnsAllPlayers(t *testing.T) {
	g, service, bus := newTestGateway(t)
	seedQuiz(t, service)
	if _, err := service.AddMember(context.Background(), "demo", "alice", "", ""); err != nil {
		t.Fatalf("add member: %v", err)
	}

	conn := dialGateway(t, g)
	readNext(t, conn)

	_ = conn.WriteJSON(map[string]any{"step": "Connect", "payload": map[string]any{"quizName": "demo"}})
	waitForSubscribers(t, bus, pubsub.QuizChannel("demo"), 1)

	_ = conn.WriteJSON(map[string]any{"step": "GetPlayers"})
	env := readNext(t, conn)
	if env.Step != domain.StepAllPlayers || env.Status != domain.StatusSuccess {
		t.Fatalf("expected AllPlayers, got %+v", env)
	}
	members := env.Payload.(map[string]any)["members"].([]any)
	if len(members) != 1 {
		t.Fatalf("expected one member, got %v", members)
	}
	if name := members[0].(map[string]any)["name"]; name != "alice" {
		t.Fatalf("expected alice, got %v", name)
	}
}

func TestMalformedMessageDoesNotCloseSocket(t *testing.T) {
	g, service, _ := newTestGateway(t)
	seedQuiz(t, service)

	conn := dialGateway(t, g)
	readNext(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readNext(t, conn)
	if env.Status != domain.StatusFailed {
		t.Fatalf("expected failure envelope, got %+v", env)
	}

	// The socket keeps working after the bad frame.
	_ = conn.WriteJSON(map[string]any{"step": "GetPlayers"})
	env = readNext(t, conn)
	if env.Status != domain.StatusFailed {
		t.Fatalf("expected failure for unregistered GetPlayers, got %+v", env)
	}
}

func TestUnknownStepReportsFailure(t *testing.T) {
	g, service, _ := newTestGateway(t)
	seedQuiz(t, service)

	conn := dialGateway(t, g)
	readNext(t, conn)

	_ = conn.WriteJSON(map[string]any{"step": "Teleport"})
	env := readNext(t, conn)
	if env.Status != domain.StatusFailed || env.Step != "Teleport" {
		t.Fatalf("expected failure echoing the step, got %+v", env)
	}
}

func TestLastSocketLeavingCancelsSubscription(t *testing.T) {
	g, service, bus := newTestGateway(t)
	seedQuiz(t, service)

	conn := dialGateway(t, g)
	readNext(t, conn)

	_ = conn.WriteJSON(map[string]any{"step": "Connect", "payload": map[string]any{"quizName": "demo"}})
	waitForSubscribers(t, bus, pubsub.QuizChannel("demo"), 1)

	_ = conn.WriteJSON(map[string]any{"step": "Disconnect"})
	waitForSubscribers(t, bus, pubsub.QuizChannel("demo"), 0)
}

func TestGlobalEnvelopesReachUnregisteredSockets(t *testing.T) {
	g, service, bus := newTestGateway(t)
	seedQuiz(t, service)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)
	waitForSubscribers(t, bus, pubsub.GlobalChannel, 1)

	conn := dialGateway(t, g)
	readNext(t, conn)

	_ = bus.Publish(context.Background(), pubsub.GlobalChannel,
		domain.Success(domain.StepSetActive, map[string]any{"quizName": "demo"}))

	env := readNext(t, conn)
	if env.Step != domain.StepSetActive {
		t.Fatalf("expected global SetActive relay, got %+v", env)
	}
}
