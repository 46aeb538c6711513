package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examgen/internal/export"
	"github.com/pavelanni/examgen/internal/handler"
	appI18n "github.com/pavelanni/examgen/internal/i18n"
	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/pdftext"
	"github.com/pavelanni/examgen/internal/rasterize"
	"github.com/pavelanni/examgen/internal/storage"
	"github.com/pavelanni/examgen/internal/store"
)

//go:generate templ generate -path ../..

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examgen",
		Short: "Exam generator: PDF and DOCX exams from question lists and course material",
	}

	serve := serveCmd()
	root.AddCommand(serve, renderCmd(), extractCmd(), generateCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examgen --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", llm.DefaultBaseURL, "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the LLM (or set EXAMGEN_LLM_KEY)")
	f.String("llm-model", llm.DefaultModel, "LLM model name")
	f.Int("llm-retries", 3, "Attempts per question generation request")
}

func addExportFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("lang", "es", "Document and UI language (es, en)")
	f.String("rasterizer", "chrome", "Formula rasterizer (chrome, none)")
	f.String("chrome-path", "", "Chrome/Chromium executable (empty to auto-detect)")
	f.String("katex-url", rasterize.DefaultKaTeXURL, "Directory URL serving katex.min.js and katex.min.css")
	f.Duration("raster-timeout", 10*time.Second, "Timeout per formula")
	f.Int("raster-workers", 4, "Formulas rasterized in parallel")
	f.Float64("raster-scale", 2, "Formula supersampling factor")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":3000", "HTTP listen address")
	f.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	f.String("db", "examgen.db", "SQLite path or PostgreSQL connection string")
	f.String("uploads-dir", "./uploads", "Directory for uploaded PDFs")
	f.Int64("max-upload-mb", 10, "Maximum upload size in MB")
	f.Bool("llm-ping", false, "Check the LLM endpoint at startup")
	f.Bool("fallback", false, "Answer with placeholder questions when generation fails")
	f.StringSlice("cors-origins", []string{"http://localhost:5173"}, "Allowed CORS origins")
	f.String("admin-password", "", "Password required for deletes (or set EXAMGEN_ADMIN_PASSWORD); empty disables the check")
	addLLMFlags(cmd)
	addExportFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render an exam JSON file to PDF or DOCX without a server",
		RunE:  runRender,
	}
	f := cmd.Flags()
	f.StringP("input", "i", "", "Exam JSON file with nombre, catedra and preguntas (required)")
	f.StringP("format", "f", "pdf", "Output format (pdf, docx)")
	f.StringP("output", "o", "", "Output file (default: derived from the exam name)")
	f.Bool("answer-key", true, "Mark correct answers; --answer-key=false prints the student copy")
	addExportFlags(cmd)
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract FILE.pdf",
		Short: "Print the text layer of a PDF",
		Args:  cobra.ExactArgs(1),
		RunE:  runExtract,
	}
	addLogFlags(cmd)
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate questions from a PDF and print them as JSON",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	f.String("pdf", "", "Source PDF (required)")
	f.String("spec", "", "JSON file with the question configuration list (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.Bool("fallback", false, "Print placeholder questions when generation fails")
	addLLMFlags(cmd)
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("pdf")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examgen")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examgen")
	v.AddConfigPath("/etc/examgen")
	v.AddConfigPath("/data")
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

func rasterFactory(v *viper.Viper) (rasterize.Factory, error) {
	switch strings.ToLower(v.GetString("rasterizer")) {
	case "none":
		return rasterize.NoneFactory(), nil
	case "", "chrome":
		return rasterize.ChromeFactory(rasterize.ChromeOptions{
			ExecPath:   v.GetString("chrome-path"),
			KaTeXURL:   v.GetString("katex-url"),
			Timeout:    v.GetDuration("raster-timeout"),
			Scale:      v.GetFloat64("raster-scale"),
			FontSizePx: int(export.DefaultConfig().FormulaFontPx),
		}), nil
	}
	return nil, fmt.Errorf("unknown rasterizer %q (want chrome or none)", v.GetString("rasterizer"))
}

func exportConfig(v *viper.Viper) export.Config {
	cfg := export.DefaultConfig()
	cfg.RasterTimeout = v.GetDuration("raster-timeout")
	cfg.RasterWorkers = v.GetInt("raster-workers")
	return cfg
}

func llmClient(v *viper.Viper) *llm.Client {
	return llm.New(llm.Config{
		BaseURL: v.GetString("llm-url"),
		APIKey:  v.GetString("llm-key"),
		Model:   v.GetString("llm-model"),
		Retries: v.GetInt("llm-retries"),
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, err := store.ParseDriver(v.GetString("db-driver"))
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, driver, v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	factory, err := rasterFactory(v)
	if err != nil {
		return err
	}
	exporter := export.NewExporter(exportConfig(v), factory, db)

	blobs, err := storage.NewFSStore(v.GetString("uploads-dir"), "/uploads/")
	if err != nil {
		return fmt.Errorf("open uploads dir: %w", err)
	}

	// A nil interface, not a nil *llm.Client, when no key is configured.
	var gen handler.Generator
	if v.GetString("llm-key") != "" {
		client := llmClient(v)
		if v.GetBool("llm-ping") {
			res, err := client.Ping(ctx)
			if err != nil {
				return fmt.Errorf("LLM health check: %w", err)
			}
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", res.Model, "response", res.Response)
		}
		gen = client
	} else {
		slog.Warn("no LLM key configured, question generation disabled")
	}

	hcfg := handler.Config{
		MaxUploadBytes: v.GetInt64("max-upload-mb") << 20,
		Fallback:       v.GetBool("fallback"),
	}
	if pw := v.GetString("admin-password"); pw != "" {
		hcfg.AdminPasswordHash, err = handler.HashAdminPassword(pw)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
	} else {
		slog.Warn("no admin password set, delete routes are open")
	}

	h, err := handler.New(db, exporter, gen, blobs, hcfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type", "Authorization", handler.AdminPasswordHeader},
		ExposedHeaders: []string{
			"Content-Disposition", "Content-Length",
			handler.HeaderPersisted, handler.HeaderPersistError, handler.HeaderExamID,
		},
		MaxAge: 300,
	}))
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"db_driver", driver,
		"lang", lang,
		"rasterizer", v.GetString("rasterizer"),
		"llm_url", v.GetString("llm-url"),
		"model", v.GetString("llm-model"),
		"uploads", blobs.Dir(),
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// examFile is the JSON accepted by the render command.
type examFile struct {
	Name       string           `json:"nombre"`
	CourseName string           `json:"catedra"`
	Questions  []model.Question `json:"preguntas"`
}

func runRender(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	format, err := export.ParseFormat(v.GetString("format"))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(v.GetString("input"))
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	var exam examFile
	if err := json.Unmarshal(data, &exam); err != nil {
		return fmt.Errorf("parse %s: %w", v.GetString("input"), err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(lang))

	factory, err := rasterFactory(v)
	if err != nil {
		return err
	}
	x := export.NewExporter(exportConfig(v), factory, nil)
	res, err := x.Export(ctx, export.Request{
		Name:       exam.Name,
		CourseName: exam.CourseName,
		Questions:  exam.Questions,
		AnswerKey:  v.GetBool("answer-key"),
		Labels:     appI18n.DocumentLabels(ctx),
	}, format, false)
	if err != nil {
		return err
	}

	out := v.GetString("output")
	if out == "" {
		out = filepath.Join(filepath.Dir(v.GetString("input")), res.Filename)
	}
	if err := os.WriteFile(out, res.Bytes, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("exam rendered", "output", out, "format", format, "bytes", len(res.Bytes))
	return nil
}

func readPDF(path string) (*pdftext.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := pdftext.Extract(data)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	return doc, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	doc, err := readPDF(args[0])
	if err != nil {
		return err
	}
	slog.Debug("pdf extracted", "pages", doc.NumPages, "pages_with_text", len(doc.Pages))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.Text())
	return err
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	doc, err := readPDF(v.GetString("pdf"))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(v.GetString("spec"))
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}
	var specs []model.QuestionSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("parse %s: %w", v.GetString("spec"), err)
	}

	questions, err := llmClient(v).GenerateQuestions(cmd.Context(), doc.Text(), specs)
	if err != nil {
		if !v.GetBool("fallback") {
			return fmt.Errorf("generate questions: %w", err)
		}
		slog.Warn("generation failed, using fallback questions", "error", err)
		if specs, err = llm.NormalizeSpecs(specs); err != nil {
			return err
		}
		questions = llm.Fallback(specs)
	}

	out, err := json.MarshalIndent(map[string]any{"preguntas": questions}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if path := v.GetString("output"); path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
