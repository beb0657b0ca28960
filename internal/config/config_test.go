package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
kafka:
  brokers: ["localhost:9092"]
  source_topic: cdc.public.docs
  group: connect-docs
  destination_topic: docs-index
  dead_letter_topic: docs-dlq
registry:
  url: http://localhost:8081
  schema_id: 7
embed:
  provider: ollama_http
  model: nomic-embed-text
  url: http://localhost:11434
mapping:
  key_column: id
  text_columns: [text]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFileDefaults(t *testing.T) {
	c, err := LoadFile(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	if c.Kafka.QueueDepth != 64 {
		t.Errorf("queue depth default = %d, want 64", c.Kafka.QueueDepth)
	}
	if c.Retry.MaxAttempts != 5 {
		t.Errorf("max attempts default = %d, want 5", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialInterval().Milliseconds() != 200 {
		t.Errorf("initial interval = %v", c.Retry.InitialInterval())
	}
	if c.HTTP.Addr != ":8080" {
		t.Errorf("http addr default = %q", c.HTTP.Addr)
	}
	if c.Registry.SchemaID != 7 {
		t.Errorf("schema id = %d", c.Registry.SchemaID)
	}
}

func TestLoadFileMissingDLQ(t *testing.T) {
	body := strings.Replace(minimalYAML, "  dead_letter_topic: docs-dlq\n", "", 1)
	_, err := LoadFile(writeConfig(t, body))
	if err == nil || !strings.Contains(err.Error(), "dead_letter_topic") {
		t.Fatalf("expected dead_letter_topic error, got %v", err)
	}
}

func TestLoadFromEnvUnset(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error when CONFIG_PATH is unset")
	}
}
