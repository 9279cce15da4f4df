package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	"live-quiz-service/internal/pubsub"
)

func TestQuizSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	applyMigrations(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	bus := pubsub.NewRedisBus(redisClient)
	defer bus.Close()

	service := app.NewQuizService(
		postgres.NewQuizRepository(pool),
		postgres.NewMemberRepository(pool),
		bus,
		app.Options{CountdownTick: 50 * time.Millisecond},
	)

	if _, err := service.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("save quiz: %v", err)
	}

	events, cancel, err := bus.Subscribe(ctx, pubsub.QuizChannel("demo"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := service.InitQuiz(ctx, "demo"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if idx, err := service.NextQuestion(ctx, "demo"); err != nil || idx != 0 {
		t.Fatalf("next question: idx=%d err=%v", idx, err)
	}
	if env := nextEvent(t, events); env.Step != domain.StepNextQuestion {
		t.Fatalf("expected NextQuestion fan-out, got %+v", env)
	}

	if _, err := service.AddMember(ctx, "demo", "alice", "", ""); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if _, err := service.AddMember(ctx, "demo", "bob", "", ""); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if _, err := service.AddMember(ctx, "demo", "ALICE", "", ""); err == nil {
		t.Fatal("expected duplicate member rejection")
	}

	if err := service.StartNextQuestion(ctx, "demo"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := service.RecordResponse(ctx, "demo", "alice", domain.ResponseValue{SelectedIndices: []int{1}}); err != nil {
		t.Fatalf("alice answers: %v", err)
	}
	if err := service.RecordResponse(ctx, "demo", "bob", domain.ResponseValue{SelectedIndices: []int{0}}); err != nil {
		t.Fatalf("bob answers: %v", err)
	}
	if err := service.RecordResponse(ctx, "demo", "alice", domain.ResponseValue{SelectedIndices: []int{0}}); err == nil {
		t.Fatal("expected duplicate submission rejection")
	}

	lb, err := service.GetLeaderboard(ctx, "demo", -1)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.CorrectResponses) != 1 || lb.CorrectResponses[0].Name != "alice" {
		t.Fatalf("expected alice alone on the leaderboard, got %+v", lb.CorrectResponses)
	}

	// The survived state is visible to a fresh service against the same store.
	fresh := app.NewQuizService(
		postgres.NewQuizRepository(pool),
		postgres.NewMemberRepository(pool),
		bus,
		app.Options{},
	)
	quiz, err := fresh.GetQuiz(ctx, "DEMO")
	if err != nil {
		t.Fatalf("reload quiz: %v", err)
	}
	if quiz.State != domain.StateRunning || quiz.CurrentQuestionIndex != 0 {
		t.Fatalf("expected persisted running quiz at question 0, got %+v", quiz)
	}
}

func nextEvent(t *testing.T, ch <-chan domain.Envelope) domain.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope delivered")
		return domain.Envelope{}
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		Name: "demo",
		Questions: []domain.Question{
			{
				Type: domain.SingleChoice,
				Text: "What is 2 + 2?",
				Options: []domain.AnswerOption{
					{Text: "3"},
					{Text: "4", IsCorrect: true},
					{Text: "5"},
				},
			},
		},
	}
}

func applyMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
