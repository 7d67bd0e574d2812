package integration

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	pgImage    = "postgres:16-alpine"
	pgUser     = "upstac"
	pgPassword = "upstac"
	pgDatabase = "upstactest"
)

// startPostgresContainer runs a throwaway PostgreSQL through the Docker CLI
// and returns its connection string and a cleanup function.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	port, err := freePort()
	if err != nil {
		return "", nil, fmt.Errorf("find free port: %w", err)
	}

	name := "upstac-it-" + uuid.NewString()[:8]
	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--name", name,
		"-p", fmt.Sprintf("127.0.0.1:%d:5432", port),
		"-e", "POSTGRES_USER="+pgUser,
		"-e", "POSTGRES_PASSWORD="+pgPassword,
		"-e", "POSTGRES_DB="+pgDatabase,
		pgImage,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run %s: %w: %s", pgImage, err, strings.TrimSpace(string(out)))
	}
	id := strings.TrimSpace(string(out))
	cleanup := func() { _ = exec.Command("docker", "rm", "-f", id).Run() }

	connStr := fmt.Sprintf("postgres://%s:%s@127.0.0.1:%d/%s?sslmode=disable", pgUser, pgPassword, port, pgDatabase)
	if err := awaitReady(ctx, connStr, 30*time.Second); err != nil {
		cleanup()
		return "", nil, err
	}
	return connStr, cleanup, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// awaitReady polls until a query succeeds. The entrypoint restarts the
// server once after init, so one successful connect is not enough.
func awaitReady(ctx context.Context, connStr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastErr error
	for ok := 0; ok < 2; {
		conn, err := pgx.Connect(ctx, connStr)
		if err == nil {
			var one int
			err = conn.QueryRow(ctx, "SELECT 1").Scan(&one)
			_ = conn.Close(ctx)
		}
		if err == nil {
			ok++
		} else {
			ok, lastErr = 0, err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %s: %v", timeout, lastErr)
		case <-ticker.C:
		}
	}
	return nil
}
