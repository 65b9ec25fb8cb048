package allureboard_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/raphi011/allureboard"
	"github.com/raphi011/allureboard/client"
	"github.com/raphi011/allureboard/internal/config"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	reportsPath = "/reports"
	resultsDir  = "/reports/data/test-results"

	defaultTimeout = 3 * time.Second
)

const checkoutResult = `{
	"uuid": "a",
	"name": "Checkout",
	"status": "failed",
	"start": 1700000000000,
	"stop": 1700000000500,
	"titlePath": ["Nova", "Cart"],
	"labels": [{"name": "tag", "value": "smoke"}, {"name": "tag", "value": "nightly"}],
	"statusDetails": {"message": "boom"},
	"attachments": [{"name": "Screenshot", "source": "shot.png", "type": "image/png"}],
	"steps": [{"name": "pay", "status": "failed", "start": 1700000000000, "stop": 1700000000400}]
}`

const loginResult = `[{
	"uuid": "b",
	"name": "Login",
	"status": "passed",
	"start": 1700000060000,
	"stop": 1700000060200,
	"titlePath": ["Nova", "Auth"],
	"labels": [{"name": "tag", "value": "smoke"}]
}, {
	"uuid": "c",
	"name": "Search",
	"status": "skipped",
	"start": 1700000120000,
	"stop": 1700000120100,
	"fullName": "Shop/Search"
}]`

const container = `{"uuid": "d", "children": ["a"], "befores": [{"name": "setup"}]}`

type test struct {
	server *allureboard.Server
	client client.Client
	fs     afero.Fs
	done   chan error
}

type configFunc func(c *config.Config)

func resultsFs(t *testing.T) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()

	write := func(name, content string) {
		require.NoError(t, afero.WriteFile(fs, resultsDir+"/"+name, []byte(content), 0o644))
	}

	write("a-result.json", checkoutResult)
	write("b-result.json", loginResult)
	write("d-container.json", container)
	write("e-result.json", `{"uuid": `)
	write("shot.png", "\x89PNG\r\n")

	return fs
}

// acceptanceTest starts a server on a random port that reads its results
// from an in-memory filesystem.
func acceptanceTest(t *testing.T, configure ...configFunc) *test {
	t.Helper()

	cfg := config.Default()
	cfg.Host = "localhost"
	cfg.Port = 0
	cfg.ReportsPath = reportsPath
	cfg.Watch.Enabled = false

	for _, c := range configure {
		c(&cfg)
	}

	require.NoError(t, cfg.Validate())

	fs := resultsFs(t)

	s := allureboard.New(cfg,
		allureboard.WithFs(fs),
		allureboard.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	done := make(chan error, 1)

	go func() {
		done <- s.Run(context.Background())
	}()

	s.WaitForStartup()

	te := &test{
		server: s,
		client: client.New(fmt.Sprintf("http://localhost:%d", s.ServerPort()), http.DefaultClient),
		fs:     fs,
		done:   done,
	}

	t.Cleanup(te.shutdown)

	return te
}

func (te *test) shutdown() {
	te.server.Shutdown()
	<-te.done
}

func databaseMode(c *config.Config) {
	c.Source.Mode = model.SourceModeDatabase
	c.Ingest.Enabled = true
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	t.Cleanup(cancel)

	return ctx
}

func (te *test) url(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", te.server.ServerPort(), path)
}
