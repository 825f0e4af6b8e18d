package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pepebot/pkg/gallery"
	"pepebot/pkg/imgur"
	"pepebot/pkg/otogi"
)

const testAlbumBody = `{
  "data": {
    "id": "SU4Qa",
    "title": "pepes",
    "images_count": 2,
    "images": [
      {"id": "a", "type": "image/png", "link": "https://i.imgur.com/a.png"},
      {"id": "b", "type": "image/gif", "animated": true, "link": "https://i.imgur.com/b.gif"}
    ]
  },
  "success": true,
  "status": 200
}`

func newAlbumServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Client-ID imgur-client" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server
}

func newTestConfig(t *testing.T, galleryBaseURL string) appConfig {
	t.Helper()

	cfg := defaultAppConfig()
	cfg.galleryBaseURL = galleryBaseURL
	cfg.imgurClientID = "imgur-client"
	cfg.telegram.AppID = 123456
	cfg.telegram.AppHash = "sample_hash"
	cfg.telegram.BotToken = "123:abc"
	cfg.telegram.SessionFile = filepath.Join(t.TempDir(), "telegram", "session.json")

	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewApplicationWiresRuntime(t *testing.T) {
	t.Parallel()

	server := newAlbumServer(t, http.StatusOK, testAlbumBody)
	cfg := newTestConfig(t, server.URL)

	app, err := newApplication(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("newApplication failed: %v", err)
	}

	if !app.cache.Ready() {
		t.Fatal("expected gallery cache to be ready")
	}
	collection, err := app.cache.Get()
	if err != nil {
		t.Fatalf("cache get failed: %v", err)
	}
	if diff := cmp.Diff([]string{"https://i.imgur.com/a.png", "https://i.imgur.com/b.gif"}, collection.Links()); diff != "" {
		t.Fatalf("cached links mismatch (-want +got):\n%s", diff)
	}

	if app.source.Platform != otogi.PlatformTelegram {
		t.Fatalf("source platform = %q, want telegram", app.source.Platform)
	}
	if _, err := otogi.ResolveAs[otogi.SinkDispatcher](app.kernel.Services(), otogi.ServiceSinkDispatcher); err != nil {
		t.Fatalf("resolve sink dispatcher: %v", err)
	}
	if _, err := otogi.ResolveAs[*slog.Logger](app.kernel.Services(), otogi.ServiceLogger); err != nil {
		t.Fatalf("resolve logger: %v", err)
	}

	catalog, err := otogi.ResolveAs[otogi.CommandCatalog](app.kernel.Services(), otogi.ServiceCommandCatalog)
	if err != nil {
		t.Fatalf("resolve command catalog: %v", err)
	}
	registered, err := catalog.ListCommands(context.Background())
	if err != nil {
		t.Fatalf("list commands: %v", err)
	}
	commands := make([]string, 0, len(registered))
	for _, entry := range registered {
		commands = append(commands, string(entry.Command.Trigger)+entry.Command.Name)
	}
	slices.Sort(commands)
	if diff := cmp.Diff([]string{"!pepe", "/help", "/meme", "/pepe"}, commands); diff != "" {
		t.Fatalf("registered commands mismatch (-want +got):\n%s", diff)
	}
}

func TestRunBotFailsBeforeGatewayWhenGalleryFetchFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"success":false,"status":500}`},
		{name: "malformed body", status: http.StatusOK, body: `{"data":`},
		{name: "empty album", status: http.StatusOK, body: `{"data":{"id":"SU4Qa","images_count":0,"images":[]},"success":true,"status":200}`},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := newAlbumServer(t, testCase.status, testCase.body)
			cfg := newTestConfig(t, server.URL)

			err := runBot(context.Background(), cfg, discardLogger())
			if !errors.Is(err, imgur.ErrFetchFailure) {
				t.Fatalf("runBot error = %v, want ErrFetchFailure", err)
			}
			if _, statErr := os.Stat(filepath.Dir(cfg.telegram.SessionFile)); !errors.Is(statErr, os.ErrNotExist) {
				t.Fatalf("session directory stat error = %v, want not exist", statErr)
			}
		})
	}
}

func TestLoadGalleryCacheLogsReadiness(t *testing.T) {
	t.Parallel()

	server := newAlbumServer(t, http.StatusOK, testAlbumBody)
	cfg := newTestConfig(t, server.URL)

	var output bytes.Buffer
	cache, err := loadGalleryCache(context.Background(), cfg, newLogger(slog.LevelInfo, &output))
	if err != nil {
		t.Fatalf("loadGalleryCache failed: %v", err)
	}
	if err := cache.Initialize(mustTestCollection(t)); !errors.Is(err, gallery.ErrCacheAlreadyInitialized) {
		t.Fatalf("second initialize error = %v, want ErrCacheAlreadyInitialized", err)
	}

	logged := output.String()
	if !strings.Contains(logged, `"msg":"gallery cache ready"`) || !strings.Contains(logged, `"size":2`) {
		t.Fatalf("log output = %s, want gallery cache ready with size 2", logged)
	}
}

func TestGalleryCommandPrintsLinks(t *testing.T) {
	setCredentialEnv(t)

	server := newAlbumServer(t, http.StatusOK, testAlbumBody)
	configPath := filepath.Join(t.TempDir(), "pepebot.yaml")
	writeConfigFile(t, configPath, "gallery:\n  base_url: "+server.URL+"\n")

	var output bytes.Buffer
	root := newRootCmd()
	root.SetOut(&output)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"gallery", "--config", configPath, "--album", "SU4Qa"})

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("gallery command failed: %v", err)
	}

	want := "album SU4Qa \"pepes\": 2 images\nhttps://i.imgur.com/a.png\nhttps://i.imgur.com/b.gif\n"
	if diff := cmp.Diff(want, output.String()); diff != "" {
		t.Fatalf("gallery output mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCommandRequiresCredentials(t *testing.T) {
	setCredentialEnv(t)
	t.Setenv(envTelegramBotToken, "")

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"run"})

	err := root.ExecuteContext(context.Background())
	if err == nil {
		t.Fatal("expected missing credential error")
	}
	if !strings.Contains(err.Error(), envTelegramBotToken) {
		t.Fatalf("error = %v, want mention of %s", err, envTelegramBotToken)
	}
}

func mustTestCollection(t *testing.T) gallery.Collection {
	t.Helper()

	collection, err := gallery.NewCollection("x", "", 1, []gallery.Entry{{ID: "x", Link: "https://i.imgur.com/x.png"}})
	if err != nil {
		t.Fatalf("new collection: %v", err)
	}

	return collection
}
