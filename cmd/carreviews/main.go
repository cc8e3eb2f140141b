package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"carreviews/internal/answer"
	"carreviews/internal/config"
	"carreviews/internal/domain"
	"carreviews/internal/embedding/hashing"
	"carreviews/internal/embedding/openai"
	"carreviews/internal/indexer"
	"carreviews/internal/logging"
	"carreviews/internal/reviews"
	"carreviews/internal/service"
	"carreviews/internal/tui"
	"carreviews/internal/vectorstore"
	"carreviews/internal/vectorstore/qdrant"
)

const usage = `Usage: carreviews [-config config.yaml] <command> [flags] [question]

Commands:
  build    delete and rebuild the review collection from the CSV files
  query    print the reviews closest to a question
  ask      answer a question from the closest reviews
  delete   delete the review collection
  tui      interactive question prompt
`

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		slog.Error("carreviews failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("carreviews", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	cfgPath := fs.String("config", "", "Path to YAML config file (optional; uses ~/.config/carreviews/config.yaml if not provided)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	var cfg *config.AppConfig
	var err error
	if *cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(*cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Configure(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	sub := flag.NewFlagSet(cmd, flag.ContinueOnError)
	years := sub.String("years", joinInts(cfg.Data.Years), "comma-separated vehicle years to keep")
	topK := sub.Int("k", cfg.Query.TopK, "number of reviews to retrieve")
	minRating := sub.Float64("min-rating", -1, "only retrieve reviews rated at least this (negative disables)")
	if err := sub.Parse(rest); err != nil {
		return err
	}
	if *topK <= 0 {
		return fmt.Errorf("-k %d: %w", *topK, domain.ErrInvalidTopK)
	}
	if cfg.Data.Years, err = parseInts(*years); err != nil {
		return fmt.Errorf("-years: %w", err)
	}
	cfg.Query.TopK = *topK
	if *minRating >= 0 {
		cfg.Query.MinRating = minRating
	}
	question := strings.TrimSpace(strings.Join(sub.Args(), " "))
	if question == "" {
		question = cfg.Query.Question
	}

	switch cmd {
	case "build", "query", "ask", "delete", "tui":
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	svc, closeStore, err := assemble(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	switch cmd {
	case "build":
		rep, err := svc.Rebuild(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "built collection %q: %d reviews in %d batches (embedding %s, %s)\n",
			rep.Collection.Name, rep.Records, rep.Batches, rep.Collection.EmbeddingModel, rep.Collection.Distance)
	case "delete":
		return svc.Delete(ctx)
	case "query":
		matches, err := svc.Search(ctx, question, cfg.Query.TopK)
		if err != nil {
			return err
		}
		printMatches(stdout, question, matches)
	case "ask":
		ans, err := svc.Ask(ctx, question)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, ans.Text)
		fmt.Fprintln(stdout)
		printMatches(stdout, question, ans.Matches)
	case "tui":
		if _, err := tea.NewProgram(tui.New(svc, svc.Collection())).Run(); err != nil {
			return err
		}
	}
	return nil
}

func assemble(ctx context.Context, cfg *config.AppConfig) (*service.ReviewService, func(), error) {
	// Assemble components
	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "hashing", "":
		dim := 0
		if cfg.Embedder.Hashing != nil {
			dim = cfg.Embedder.Hashing.Dimension
		}
		emb = hashing.NewEmbedder(dim)
	case "openai":
		oc := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:           oc.BaseURL,
			APIKeyEnv:         oc.APIKeyEnv,
			Model:             oc.Model,
			Timeout:           time.Duration(oc.TimeoutSecs) * time.Second,
			MaxRetries:        oc.MaxRetries,
			RequestsPerSecond: oc.RequestsPerSecond,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		emb = client
	default:
		return nil, nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var synth domain.Synthesizer
	switch cfg.Answer.Type {
	case "extractive", "":
		synth = answer.NewExtractive(cfg.Answer.MaxSentences)
	case "chat":
		chat, err := answer.NewChat(chatConfig(cfg.Answer.Chat))
		if err != nil {
			return nil, nil, fmt.Errorf("chat answerer init failed: %w", err)
		}
		synth = chat
	default:
		return nil, nil, fmt.Errorf("unknown answer type: %s", cfg.Answer.Type)
	}

	distance, err := domain.ParseDistance(cfg.VectorStore.Distance)
	if err != nil {
		return nil, nil, err
	}
	policy, err := reviews.ParseRowErrorPolicy(cfg.Data.RowErrors)
	if err != nil {
		return nil, nil, err
	}
	delim, err := parseDelimiter(cfg.Data.Delimiter)
	if err != nil {
		return nil, nil, err
	}

	storeCfg := vectorstore.Config{
		Type:        cfg.VectorStore.Type,
		Path:        cfg.VectorStore.Path,
		LeaseTTL:    cfg.VectorStore.LeaseTTL(),
		BusyTimeout: cfg.VectorStore.BusyTimeout(),
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		storeCfg.Qdrant = qdrant.Config{Host: q.Host, Port: q.Port, UseTLS: q.UseTLS}
		if q.APIKeyEnv != "" {
			storeCfg.Qdrant.APIKey = os.Getenv(q.APIKeyEnv)
		}
	}
	st, err := vectorstore.Open(ctx, storeCfg)
	if err != nil {
		return nil, nil, err
	}

	var filter domain.Filter
	if cfg.Query.MinRating != nil {
		filter.MinRating = cfg.Query.MinRating
	}
	svc := service.NewReviewService(st, emb, synth, service.Options{
		Pattern: cfg.Data.Pattern,
		Load: reviews.Options{
			Years:     cfg.Data.Years,
			Delimiter: delim,
			RowErrors: policy,
		},
		Collection: cfg.VectorStore.Collection,
		Distance:   distance,
		Indexer: indexer.Options{
			BatchSize:  cfg.Indexer.BatchSize,
			MaxRetries: cfg.Indexer.MaxRetries,
		},
		TopK:   cfg.Query.TopK,
		Filter: filter,
		Logger: slog.Default(),
	})
	return svc, func() {
		if err := st.Close(); err != nil {
			slog.Warn("close vector store", "error", err)
		}
	}, nil
}

func chatConfig(cc *config.ChatConfig) answer.ChatConfig {
	return answer.ChatConfig{
		BaseURL:           cc.BaseURL,
		APIKeyEnv:         cc.APIKeyEnv,
		Model:             cc.Model,
		Temperature:       cc.Temperature,
		Timeout:           time.Duration(cc.TimeoutSecs) * time.Second,
		MaxRetries:        cc.MaxRetries,
		RequestsPerSecond: cc.RequestsPerSecond,
	}
}

func printMatches(w io.Writer, question string, matches []domain.Match) {
	fmt.Fprintf(w, "%d reviews for %q\n", len(matches), question)
	for i, m := range matches {
		fmt.Fprintf(w, "\n%d. %s  distance=%.4f\n   %d %s  rating=%.1f  %q\n   %s\n",
			i+1, m.ID, m.Distance, m.Metadata.Year, m.Metadata.Model, m.Metadata.Rating, m.Metadata.Title, m.Text)
	}
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r[0], nil
}
