package main

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/config"
	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/platform/blobstore"
	"github.com/care/emr/internal/platform/cache"
	"github.com/care/emr/internal/platform/notification"
	"github.com/care/emr/internal/platform/plugin"
	"github.com/care/emr/internal/platform/taskqueue"
)

func TestResolveSigningKey_Configured(t *testing.T) {
	key, random, err := resolveSigningKey("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if random {
		t.Error("expected random=false when a key is configured")
	}
	if string(key) != "0123456789abcdef0123456789abcdef" {
		t.Errorf("unexpected key %q", key)
	}
}

func TestResolveSigningKey_RandomGeneration(t *testing.T) {
	key, random, err := resolveSigningKey("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !random {
		t.Error("expected random=true when no key is configured")
	}
	if len(key) != 32 {
		t.Errorf("expected 32-byte key, got %d bytes", len(key))
	}
	key2, _, _ := resolveSigningKey("")
	if string(key) == string(key2) {
		t.Error("two random keys should not be identical")
	}
}

func TestNewSMSSender(t *testing.T) {
	tasks := taskqueue.NewMemoryPublisher()
	logger := zerolog.Nop()

	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"disabled", config.Config{UseSMS: false, SMSProvider: "http"}, "log"},
		{"queue", config.Config{UseSMS: true, SMSProvider: "queue"}, "queue"},
		{"http", config.Config{UseSMS: true, SMSProvider: "http", SMSProviderURL: "http://sms.local"}, "http"},
		{"log", config.Config{UseSMS: true, SMSProvider: "log"}, "log"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			switch newSMSSender(&tc.cfg, tasks, logger).(type) {
			case *notification.LogSMSSender:
				got = "log"
			case *notification.QueueSMSSender:
				got = "queue"
			case *notification.HTTPSMSSender:
				got = "http"
			}
			if got != tc.want {
				t.Errorf("expected %s sender, got %q", tc.want, got)
			}
		})
	}
}

func TestNewPublisher(t *testing.T) {
	ctx := context.Background()

	p, closeFn, err := newPublisher(ctx, &config.Config{TaskQueueBackend: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := p.(*taskqueue.MemoryPublisher); !ok {
		t.Errorf("expected memory publisher, got %T", p)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}

	p, closeFn, err = newPublisher(ctx, &config.Config{TaskQueueBackend: "kafka", KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "emr-tasks"})
	if err != nil {
		t.Fatalf("kafka: %v", err)
	}
	if _, ok := p.(*taskqueue.KafkaPublisher); !ok {
		t.Errorf("expected kafka publisher, got %T", p)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestNewKVAndBlobStore_Defaults(t *testing.T) {
	kv, err := newKV(&config.Config{})
	if err != nil {
		t.Fatalf("newKV: %v", err)
	}
	if _, ok := kv.(*cache.MemoryKV); !ok {
		t.Errorf("expected memory KV without REDIS_URL, got %T", kv)
	}
	store, err := newBlobStore(context.Background(), &config.Config{})
	if err != nil {
		t.Fatalf("newBlobStore: %v", err)
	}
	if _, ok := store.(*blobstore.MemoryStore); !ok {
		t.Errorf("expected memory blob store without S3_BUCKET, got %T", store)
	}
}

type overridePlugin struct{}

func (overridePlugin) Name() string { return "visiting-doctor" }

func (overridePlugin) RegisterRoutes(*echo.Group) {}

func (overridePlugin) Migrate(context.Context, *pgxpool.Pool) error { return nil }

func (overridePlugin) AuthzOverrides() (map[string]authz.Action, map[string]authz.Query) {
	return map[string]authz.Action{"not_an_action": nil}, nil
}

func TestApplyPlugins_RejectsBadOverride(t *testing.T) {
	plugins := plugin.NewRegistry()
	if err := plugins.Register(overridePlugin{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctrl := authz.NewController(nil, nil, nil, zerolog.Nop())
	if err := applyPlugins(ctrl, plugins); err == nil {
		t.Fatal("expected an error for an override not named can_*")
	}
}
