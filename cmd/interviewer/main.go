package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/interviewer/internal/catalog"
	"github.com/pavelanni/interviewer/internal/handler"
	appI18n "github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/llm"
	"github.com/pavelanni/interviewer/internal/llm/prompts"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/observe"
	"github.com/pavelanni/interviewer/internal/store"
	"github.com/pavelanni/interviewer/internal/stt"
)

var version = "dev"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "interviewer",
		Short:   "Interview practice coach with AI feedback",
		Version: version,
	}

	serve := serveCmd()
	root.AddCommand(serve, questionsCmd(), practiceCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `interviewer --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addStoreFlags registers the catalog flags shared by every command.
func addStoreFlags(f *pflag.FlagSet) {
	f.String("db", "interviewer.db", "SQLite database path")
	f.StringSliceP("questions", "q", []string{"questions/questions.json"}, "Paths to question catalog files, JSON or YAML (repeatable)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

// addUpstreamFlags registers the speech-to-text and feedback flags.
func addUpstreamFlags(f *pflag.FlagSet) {
	f.String("api-url", "", "OpenAI-compatible API base URL (default: OpenAI)")
	f.String("api-key", "", "API key (or set INTERVIEWER_API_KEY / OPENAI_API_KEY); empty or placeholder enables mock mode")
	f.String("llm-model", llm.DefaultModel, "Feedback model name")
	f.String("stt-model", stt.DefaultModel, "Transcription model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Feedback prompt variant (strict, standard, lenient)")
	f.Duration("request-timeout", 60*time.Second, "Timeout for each upstream call (0 = none)")
	f.StringP("lang", "l", "en", "UI language (en, ru)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP practice server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSlice("allowed-origins", nil, "Origins allowed for CORS and the session websocket (default: same origin)")
	f.Bool("check-upstream", false, "Include the feedback endpoint in /readyz")
	addStoreFlags(f)
	addUpstreamFlags(f)
	return cmd
}

// setupLogging installs the default slog logger on stderr from the
// --log-level and --log-format flags.
func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(v.GetString("log-format"), "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("INTERVIEWER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("interviewer")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/interviewer")
	v.AddConfigPath("/etc/interviewer")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// apiKey returns the configured credential, falling back to the variable
// used by the OpenAI tooling.
func apiKey(v *viper.Viper) string {
	if k := v.GetString("api-key"); k != "" {
		return k
	}
	return os.Getenv("OPENAI_API_KEY")
}

func promptVariant(v *viper.Viper) prompts.PromptVariant {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		return prompts.PromptStandard
	}
	return prompts.PromptVariant(variant)
}

// newClients builds the upstream clients. Must run after observe.InitProvider
// so that they record into the exported meter provider.
func newClients(v *viper.Viper) (*llm.Client, *stt.Client) {
	key := apiKey(v)
	l := llm.New(v.GetString("api-url"), key, v.GetString("llm-model"), promptVariant(v))
	t := stt.New(v.GetString("api-url"), key, v.GetString("stt-model"))
	if !model.CredentialConfigured(key) {
		slog.Warn("no API key configured, transcription and feedback are simulated")
	}
	return l, t
}

// openStore opens the database and imports the configured catalog files.
func openStore(v *viper.Viper) (*store.Store, error) {
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := loadQuestions(db, v.GetStringSlice("questions")); err != nil {
		db.Close()
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "interviewer",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient, sttClient := newClients(v)
	if llmClient.Configured() {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := llmClient.Ping(pctx); err != nil {
			slog.Warn("feedback endpoint check failed, analysis will degrade", "url", v.GetString("api-url"), "error", err)
		} else {
			slog.Info("feedback endpoint OK", "model", v.GetString("llm-model"))
		}
		cancel()
	}

	cfg := model.AppConfig{
		APIURL:         v.GetString("api-url"),
		LLMModel:       v.GetString("llm-model"),
		STTModel:       v.GetString("stt-model"),
		PromptVariant:  string(promptVariant(v)),
		Lang:           lang,
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		RequestTimeout: v.GetDuration("request-timeout"),
		CheckUpstream:  v.GetBool("check-upstream"),
	}

	h, err := handler.New(db, llmClient, sttClient, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"version", version,
		"api_url", cfg.APIURL,
		"llm_model", cfg.LLMModel,
		"stt_model", cfg.STTModel,
		"prompt_variant", cfg.PromptVariant,
		"lang", cfg.Lang,
		"mock", !llmClient.Configured(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// loadQuestions imports each catalog file once. A file whose content hash
// matches the recorded import is skipped; a changed file is skipped with a
// warning so the catalog order stays stable across restarts.
func loadQuestions(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, skipping; delete the database to reimport",
				"path", path)
			continue
		}

		questions, err := catalog.Parse(data, catalog.FormatForPath(path))
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := db.ImportQuestions(path, hash, questions); err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "count", len(questions))
	}

	count, err := db.QuestionCount()
	if err != nil {
		return err
	}
	if count == 0 {
		slog.Warn("question catalog is empty")
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
