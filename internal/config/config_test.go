package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, "wss://spark-api.xf-yun.com/v4.0/chat", cfg.Spark.URL)
	assert.Equal(t, "4.0Ultra", cfg.Spark.Domain)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, "recursive", cfg.Chunker.Type)
	assert.Equal(t, 200, cfg.Chunker.ChunkSize)
	assert.Equal(t, 50, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
}

func TestLoad_AppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
spark:
  domain: generalv3.5
  app_id_env: MY_APPID
embedder:
  type: openai
vector_store:
  type: qdrant
  qdrant:
    collection: docs
reranker:
  type: remote
  url: http://localhost:8000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "generalv3.5", cfg.Spark.Domain)
	assert.Equal(t, "MY_APPID", cfg.Spark.AppIDEnv)
	assert.Equal(t, "SPARK_API_KEY", cfg.Spark.APIKeyEnv)
	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, "docs", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, "http://localhost:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, "remote", cfg.Reranker.Type)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [::"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Server.Addr = ":9090"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSparkClientConfig_ReadsEnv(t *testing.T) {
	t.Setenv("SPARK_APPID", "app")
	t.Setenv("SPARK_API_KEY", "key")
	t.Setenv("SPARK_API_SECRET", "secret")

	cfg := defaultConfig()
	sc := cfg.SparkClientConfig()
	assert.Equal(t, "app", sc.Credentials.AppID)
	assert.Equal(t, "key", sc.Credentials.APIKey)
	assert.Equal(t, "secret", sc.Credentials.APISecret)
	assert.Equal(t, 10*time.Second, sc.OpenTimeout)
	assert.Equal(t, 30*time.Second, sc.IdleTimeout)
}

func TestLoad_TemperatureZeroIsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("spark:\n  temperature: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Spark.Temperature)
	assert.Equal(t, 0.0, *cfg.Spark.Temperature)
	assert.Equal(t, 0.0, *cfg.SparkClientConfig().Temperature)

	defaults, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.NotNil(t, defaults.Spark.Temperature)
	assert.Equal(t, 0.5, *defaults.Spark.Temperature)
}
