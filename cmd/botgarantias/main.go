// Command botgarantias runs the WhatsApp customer-service bot for
// Tecnología Inalámbrica del Istmo: the webhook dispatcher, the
// conversation state machine, and the scheduled notification jobs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/api"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/flow"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/genai"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/jobs"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/scheduler"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/sheets"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/store"
	"github.com/Jossellu/Bot-whatsapp-Garantias/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants.
const (
	// DefaultAddr is the webhook listen address.
	DefaultAddr = ":5000"
	// DefaultCleanupCron clears the dedup ledgers hourly.
	DefaultCleanupCron = "0 * * * *"
	// DefaultInfoDoc is the business knowledge document for the
	// generative responder.
	DefaultInfoDoc = "data/info_empresa.txt"
)

// Config holds environment configuration.
type Config struct {
	APIToken        string
	BusinessPhoneID string
	VerifyToken     string
	APIVersion      string
	APIEnv          string
	TestNumbers     []string
	Addr            string

	SheetID         string
	CredentialsFile string

	GeminiKey   string
	GeminiModel string
	InfoDoc     string

	AdvisorPhone string
	Advisors     []string
}

func main() {
	initializeLogger()
	config := loadEnvironmentConfig()

	addr := flag.String("addr", config.Addr, "webhook listen address (overrides $PORT)")
	infoDoc := flag.String("info-doc", config.InfoDoc, "business info document for the question flow")
	flag.Parse()
	config.Addr = *addr
	config.InfoDoc = *infoDoc

	if err := run(config); err != nil {
		slog.Error("Bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Bot exited successfully")
}

func run(config Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Outbound sender.
	waOpts := []whatsapp.Option{whatsapp.WithAPIVersion(config.APIVersion)}
	if config.APIEnv == "sandbox" {
		waOpts = append(waOpts, whatsapp.WithSandbox(config.TestNumbers))
	}
	sender, err := whatsapp.NewClient(config.BusinessPhoneID, config.APIToken, waOpts...)
	if err != nil {
		return err
	}

	// Tabular record source.
	source, err := sheets.NewGoogleSource(ctx, config.SheetID, config.CredentialsFile)
	if err != nil {
		return err
	}

	// Generative responder.
	responder, err := genai.NewClient(ctx, config.GeminiKey, config.GeminiModel, config.InfoDoc)
	if err != nil {
		return err
	}
	defer responder.Close()

	// In-process state.
	states := store.NewInMemoryStateStore()
	messages := store.NewDedupLedger("messages")
	options := store.NewDedupLedger("options")

	dispatcher := flow.NewDispatcher(states, messages, options, sender, source, responder, flow.Config{
		AdvisorPhone: config.AdvisorPhone,
		Advisors:     config.Advisors,
	})

	// Scheduled work: notification jobs plus the hourly ledger sweep.
	sched := scheduler.New()
	engine := jobs.NewEngine(source, sender, states, jobs.DefaultConfig())
	if err := engine.Register(sched); err != nil {
		return err
	}
	if err := sched.AddJob(DefaultCleanupCron, func() {
		messages.Clear()
		options.Clear()
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(api.Config{
		Addr:            config.Addr,
		VerifyToken:     config.VerifyToken,
		BusinessPhoneID: config.BusinessPhoneID,
	}, dispatcher)
	return server.Run(ctx)
}

// initializeLogger sets up structured logging.
func initializeLogger() {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables
// and an optional .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	config := Config{
		APIToken:        os.Getenv("API_TOKEN"),
		BusinessPhoneID: os.Getenv("BUSINESS_PHONE"),
		VerifyToken:     os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		APIVersion:      os.Getenv("API_VERSION"),
		APIEnv:          os.Getenv("API_ENV"),
		TestNumbers:     splitList(os.Getenv("TEST_NUMBERS")),
		Addr:            os.Getenv("PORT"),
		SheetID:         os.Getenv("GOOGLE_SHEET_ID"),
		CredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     os.Getenv("GEMINI_MODEL"),
		InfoDoc:         os.Getenv("INFO_DOC"),
		AdvisorPhone:    os.Getenv("ADVISOR_PHONE"),
		Advisors:        splitList(os.Getenv("ADVISOR_NUMBERS")),
	}

	if config.Addr == "" {
		config.Addr = DefaultAddr
	} else if !strings.Contains(config.Addr, ":") {
		config.Addr = ":" + config.Addr
	}
	if config.InfoDoc == "" {
		config.InfoDoc = DefaultInfoDoc
	}
	if config.AdvisorPhone == "" && len(config.Advisors) > 0 {
		config.AdvisorPhone = config.Advisors[0]
	}

	slog.Debug("environment variables loaded",
		"API_TOKEN_SET", config.APIToken != "",
		"BUSINESS_PHONE", config.BusinessPhoneID,
		"API_ENV", config.APIEnv,
		"GOOGLE_SHEET_ID_SET", config.SheetID != "",
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"advisors", len(config.Advisors),
		"addr", config.Addr)
	return config
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
