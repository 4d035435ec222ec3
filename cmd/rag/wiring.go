package main

import (
	"fmt"
	"log/slog"
	"time"

	"sparkrag/internal/chunker"
	"sparkrag/internal/config"
	"sparkrag/internal/domain"
	"sparkrag/internal/embedding/hashing"
	"sparkrag/internal/embedding/openai"
	"sparkrag/internal/prompt"
	"sparkrag/internal/rerank"
	"sparkrag/internal/service"
	"sparkrag/internal/spark"
	"sparkrag/internal/vectorstore/memory"
	"sparkrag/internal/vectorstore/qdrant"
)

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// buildService assembles the RAG service from configuration.
func buildService(cfg *config.AppConfig, logger *slog.Logger) (*service.RAGService, error) {
	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "hashing", "":
		emb = hashing.NewEmbedder(cfg.Embedder.Dimension)
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:         cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv:       cfg.Embedder.OpenAI.APIKeyEnv,
			Model:           cfg.Embedder.OpenAI.Model,
			Timeout:         secs(cfg.Embedder.OpenAI.TimeoutSecs),
			AllowMissingKey: cfg.Embedder.OpenAI.AllowMissingKey,
			MaxRetries:      cfg.Embedder.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		emb = client
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var ch domain.Chunker
	recursive := chunker.NewRecursiveChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap, chunker.DefaultSeparators)
	switch cfg.Chunker.Type {
	case "recursive", "":
		ch = recursive
	case "sentence":
		ch = chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences)
	case "hybrid":
		ch = chunker.NewHybridChunker(cfg.Chunker.MinLength, recursive)
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
	}

	var st domain.VectorStore
	switch cfg.VectorStore.Type {
	case "memory", "":
		st = memory.NewStorage()
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		st = qdrant.NewStorage(qdrant.Config{
			URL:        cfg.VectorStore.Qdrant.URL,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			Collection: cfg.VectorStore.Qdrant.Collection,
			Distance:   cfg.VectorStore.Qdrant.Distance,
			Timeout:    secs(cfg.VectorStore.Qdrant.TimeoutSecs),
		})
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}

	var rr domain.Reranker
	switch cfg.Reranker.Type {
	case "none", "":
	case "lexical":
		rr = rerank.NewLexical()
	case "remote":
		rr = rerank.NewRemote(rerank.Config{
			BaseURL: cfg.Reranker.URL,
			Model:   cfg.Reranker.Model,
			Timeout: secs(cfg.Reranker.TimeoutSecs),
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unknown reranker: %s", cfg.Reranker.Type)
	}

	client, err := spark.New(cfg.SparkClientConfig(), spark.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("spark client: %w", err)
	}
	pb, err := prompt.NewBuilder(cfg.Retrieval.MaxContextTokens)
	if err != nil {
		return nil, err
	}

	return service.NewRAGService(service.Options{
		Chunker:    ch,
		Embedder:   emb,
		Store:      st,
		Reranker:   rr,
		LLM:        service.NewSparkLLM(client),
		Prompt:     pb,
		Candidates: cfg.Retrieval.Candidates,
		Logger:     logger,
	}), nil
}
