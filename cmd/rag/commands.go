package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"sparkrag/internal/server"
	"sparkrag/internal/service"
	"sparkrag/internal/summarizer"
	"sparkrag/internal/tui"
)

var (
	serveAddr   string
	serveIngest []string
	askTopK     int
	askIngest   []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question and stream the answer to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var chatCmd = &cobra.Command{
	Use:   "chat [file.txt ...]",
	Short: "Ingest text files and chat about them in the terminal",
	RunE:  runChat,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().StringSliceVar(&serveIngest, "ingest", nil, "text files or globs to index before serving")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of context chunks (default retrieval.top_k)")
	askCmd.Flags().StringSliceVar(&askIngest, "ingest", nil, "text files or globs to index before asking")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, shutdown, err := setup(os.Stderr)
	if err != nil {
		return err
	}
	defer shutdown(cmd.Context())

	svc, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	if len(serveIngest) > 0 {
		n, err := svc.IngestFiles(cmd.Context(), serveIngest)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		logger.Info("ingested files", "chunks", n)
	}
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := server.New(svc, server.Options{
		Addr:           addr,
		RequestTimeout: secs(cfg.Server.RequestTimeoutSecs),
		StreamTimeout:  secs(cfg.Server.StreamTimeoutSecs),
		AskTopK:        cfg.Retrieval.TopK,
	}, logger)
	return srv.Start(cmd.Context())
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, logger, shutdown, err := setup(os.Stderr)
	if err != nil {
		return err
	}
	defer shutdown(cmd.Context())

	svc, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	if len(askIngest) > 0 {
		if _, err := svc.IngestFiles(cmd.Context(), askIngest); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
	}
	topK := askTopK
	if topK <= 0 {
		topK = cfg.Retrieval.TopK
	}
	stream, _, err := svc.AskStream(cmd.Context(), strings.Join(args, " "), topK)
	if err != nil {
		return err
	}
	defer stream.Close()

	out := cmd.OutOrStdout()
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		fmt.Fprint(out, chunk)
	}
	fmt.Fprintln(out)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	// the TUI owns the terminal, so logs go to a file
	logFile, err := os.CreateTemp("", "sparkrag-chat-*.log")
	if err != nil {
		return err
	}
	defer logFile.Close()

	cfg, logger, shutdown, err := setup(logFile)
	if err != nil {
		return err
	}
	defer shutdown(cmd.Context())

	svc, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	digest := "No documents loaded. Pass .txt files to index them."
	if len(args) > 0 {
		if _, err := svc.IngestFiles(cmd.Context(), args); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		digest = summarize(args)
	}

	m := tui.New(cmd.Context(), svc, cfg.Retrieval.TopK, digest)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	return err
}

// summarize builds a short digest of the ingested files for the chat header.
func summarize(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			data, err := os.ReadFile(m)
			if err != nil {
				continue
			}
			b.Write(data)
			b.WriteByte('\n')
		}
	}
	return summarizer.NewFrequencySummarizer().Summarize(b.String(), 3)
}

var _ tui.Asker = (*service.RAGService)(nil)
