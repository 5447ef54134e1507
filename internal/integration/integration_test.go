package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"quizroom/internal/app"
	"quizroom/internal/domain"
	pgstore "quizroom/internal/infra/postgres"
	pgmigrations "quizroom/internal/infra/postgres/migrations"
	"quizroom/internal/infra/memory"
	infraredis "quizroom/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

type nopNotifier struct{}

func (nopNotifier) Send(string, domain.Event) {}

func TestQuizRoomEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBun(pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	bank := infraredis.NewQuizRepository(redisClient, pgstore.NewQuizLoader(pool), 5*time.Minute)
	registry := infraredis.NewRoomStore(memory.NewRoomStore(), redisClient, 5*time.Minute)
	history := pgstore.NewHistorySink(db)
	service := app.NewGameService(registry, bank, history, nopNotifier{})

	code, err := service.CreateRoom(ctx, "quiz-1", "teacher-A", "host-conn")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if n, _ := redisClient.Exists(ctx, "room:live:"+code).Result(); n != 1 {
		t.Fatalf("expected liveness marker for %s", code)
	}

	if _, err := service.JoinRoom(code, "Alice", "S1", "c1"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if _, err := service.JoinRoom(code, "Bob", "S2", "c2"); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if err := service.StartQuiz(code, "host-conn"); err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := service.SubmitAnswer(code, "c1", 1)
	if err != nil {
		t.Fatalf("submit alice: %v", err)
	}
	if !result.Correct || result.TotalScore <= 0 {
		t.Fatalf("expected scored correct answer, got %+v", result)
	}
	if _, err := service.SubmitAnswer(code, "c2", 0); err != nil {
		t.Fatalf("submit bob: %v", err)
	}
	if err := service.NextQuestion(code, "host-conn"); err != nil {
		t.Fatalf("complete quiz: %v", err)
	}

	// History hand-off is fire-and-forget; poll for the rows.
	var rows []pgstore.QuizResultRow
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rows = rows[:0]
		err := db.NewSelect().Model(&rows).Where("room_code = ?", code).Order("rank ASC").Scan(ctx)
		if err == nil && len(rows) == 2 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(rows))
	}
	if rows[0].Name != "Alice" || rows[0].Rank != 1 || rows[0].Score <= rows[1].Score {
		t.Fatalf("expected Alice ranked first, got %+v", rows)
	}
	if rows[1].CorrectCount != 0 {
		t.Fatalf("expected Bob with no correct answers, got %+v", rows[1])
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

func openBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func migrateAndSeed(t *testing.T, ctx context.Context, db *bun.DB, quiz domain.Quiz) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, quiz.ID, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{
				ID:           "q1",
				Text:         "What is 2 + 2?",
				Options:      []string{"3", "4", "5", "22"},
				CorrectIndex: 1,
				TimeLimitSec: 30,
				Points:       100,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
