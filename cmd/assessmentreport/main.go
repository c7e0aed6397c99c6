package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/eledia/assessmentreport/internal/handler"
	appI18n "github.com/eledia/assessmentreport/internal/i18n"
	"github.com/eledia/assessmentreport/internal/model"
	"github.com/eledia/assessmentreport/internal/report"
	"github.com/eledia/assessmentreport/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "assessmentreport",
		Short:        "Per-course assessment participation reports for an LMS",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `assessmentreport --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", store.DriverSQLite, "Database driver (sqlite, postgres)")
	f.String("db", "assessmentreport.db", "SQLite path or PostgreSQL connection string")
	f.String("table-prefix", "mdl_", "LMS table prefix")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP report server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("host-url", "http://localhost", "LMS base URL used for profile and quiz links")
	f.StringP("lang", "l", "en", "UI language (en, de)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /reports)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set ASSESSMENT_ADMIN_PASSWORD)")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the report of one course without starting the server",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.Int64("course", 0, "Course id (required)")
	f.String("format", "json", "Output format (json, pdf, html)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("host-url", "http://localhost", "LMS base URL used for profile and quiz links")
	f.StringP("lang", "l", "en", "Report language (en, de)")
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("course")

	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import snapshot.json...",
		Short: "Load LMS snapshots into the sqlite database",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addStoreFlags(cmd)
	addLogFlags(cmd)
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

	v.SetEnvPrefix("ASSESSMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("assessmentreport")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/assessmentreport")
	v.AddConfigPath("/etc/assessmentreport")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

var validate = validator.New()

// reportConfig assembles and validates the runtime configuration.
func reportConfig(v *viper.Viper) (model.ReportConfig, error) {
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.ReportConfig{
		DBDriver:      v.GetString("db-driver"),
		DBDSN:         v.GetString("db"),
		TablePrefix:   v.GetString("table-prefix"),
		HostURL:       strings.TrimRight(v.GetString("host-url"), "/"),
		Lang:          v.GetString("lang"),
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if cfg.HostURL == "" {
		cfg.HostURL = "http://localhost"
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(cfg model.ReportConfig) (*store.Store, error) {
	db, err := store.New(cfg.DBDriver, cfg.DBDSN, cfg.TablePrefix)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	cfg, err := reportConfig(v)
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	// Seed default admin viewer if no viewers exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if n, err := db.CleanupExpiredSessions(ctx); err != nil {
		slog.Warn("failed to clean up expired sessions", "error", err)
	} else if n > 0 {
		slog.Info("removed expired sessions", "count", n)
	}

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	h, err := handler.New(db, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(cfg.Lang))

	if cfg.BasePath != "" {
		r.Route(cfg.BasePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(cfg.BasePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, cfg.BasePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db_driver", cfg.DBDriver,
		"table_prefix", cfg.TablePrefix,
		"host_url", cfg.HostURL,
		"lang", cfg.Lang,
		"base_path", cfg.BasePath,
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	cfg, err := reportConfig(v)
	if err != nil {
		return err
	}

	format := strings.ToLower(v.GetString("format"))
	switch format {
	case "json", "pdf", "html":
	default:
		return fmt.Errorf("unsupported format %q (want json, pdf or html)", format)
	}

	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(cfg.Lang))

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	courseID := v.GetInt64("course")
	rep, err := report.New(db).Build(ctx, courseID)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "pdf":
		err = report.RenderPDF(ctx, w, rep, cfg.HostURL)
	case "html":
		_, err = io.WriteString(w, report.RenderTable(ctx, rep.Records, cfg.HostURL))
	default:
		var data []byte
		data, err = json.MarshalIndent(model.NewReportExport(rep, cfg.HostURL), "", "  ")
		if err == nil {
			data = append(data, '\n')
			_, err = w.Write(data)
		}
	}
	if err != nil {
		return fmt.Errorf("write %s output: %w", format, err)
	}

	slog.Info("exported course report", "course_id", courseID, "format", format, "records", len(rep.Records))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	cfg := model.ReportConfig{
		DBDriver:    v.GetString("db-driver"),
		DBDSN:       v.GetString("db"),
		TablePrefix: v.GetString("table-prefix"),
	}
	if cfg.DBDriver != store.DriverSQLite {
		return fmt.Errorf("import needs the %s driver: %w", store.DriverSQLite, store.ErrReadOnlyLMS)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return importSnapshots(context.Background(), db, args)
}

func importSnapshots(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("snapshot unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Info("snapshot changed since last import, updating", "path", path)
		}

		var snap model.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := db.ImportSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported snapshot", "path", path,
			"courses", len(snap.Courses), "users", len(snap.Users), "quizzes", len(snap.Quizzes))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.ViewerCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or ASSESSMENT_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateViewer(ctx, model.Viewer{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.ViewerRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin viewer: %w", err)
	}

	slog.Info("seeded default admin viewer", "username", "admin")
	return nil
}
