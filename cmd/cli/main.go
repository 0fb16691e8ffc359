package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/notion-ledger/internal/api/client"
	"github.com/dvloznov/notion-ledger/internal/app"
	"github.com/dvloznov/notion-ledger/internal/cache"
	"github.com/dvloznov/notion-ledger/internal/config"
	"github.com/dvloznov/notion-ledger/internal/export"
	infraBQ "github.com/dvloznov/notion-ledger/internal/infra/bigquery"
	"github.com/dvloznov/notion-ledger/internal/infra/gcs"
	"github.com/dvloznov/notion-ledger/internal/infra/notion"
	"github.com/dvloznov/notion-ledger/internal/ledger"
	"github.com/dvloznov/notion-ledger/internal/logger"
	"github.com/dvloznov/notion-ledger/internal/summary"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "summary":
		runSummary()
	case "import-invoices":
		runImportInvoices()
	case "set-carrier":
		runSetCarrier()
	case "export":
		runExport()
	case "mirror":
		runMirror()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Notion Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  summary          Print the income/expense summary of a month or year")
	fmt.Println("  import-invoices  Fetch e-invoices from the scraper and record new ones")
	fmt.Println("  set-carrier      Make an account the sole e-invoice carrier account")
	fmt.Println("  export           Write entries of a month or year as CSV or XLSX")
	fmt.Println("  mirror           Copy entries of a date range into BigQuery")
	fmt.Println("  help             Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// env is what every command needs: config, logger and the repository.
type env struct {
	cfg   *config.Config
	log   zerolog.Logger
	cache *cache.Memory
	repo  *notion.Repository
	// api is nil when api.url is not configured.
	api *client.Client
}

// setup parses the command flags, loads the configuration and connects to
// the store. It exits on any failure.
func setup(fs *flag.FlagSet) (*env, context.Context, context.CancelFunc) {
	configPath := fs.String("config", "", "Path to a config file (or set LEDGER_CONFIG)")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: os.Stderr})
	if err := cfg.ValidateOffline(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	ctx = logger.WithContext(ctx, log)

	c := cache.NewMemory()
	return &env{cfg: cfg, log: log, cache: c, repo: app.NewRepository(cfg, c), api: app.NewAPIClient(cfg)}, ctx, cancel
}

// accountsChanged tells the API server to drop its account caches.
func (e *env) accountsChanged(ctx context.Context) {
	if e.api == nil {
		e.log.Warn().Msg("No api.url configured - the API server keeps its cached accounts until they expire")
		return
	}
	if err := e.api.AccountsChanged(ctx); err != nil {
		e.log.Warn().Err(err).Msg("Failed to invalidate API caches")
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func periodFlags(fs *flag.FlagSet) (*int, *int) {
	year := fs.Int("year", time.Now().Year(), "Calendar year")
	month := fs.Int("month", 0, "Calendar month 1-12 (0 means the whole year)")
	return year, month
}

func period(year, month int) (ledger.Period, error) {
	if month == 0 {
		return ledger.YearPeriod(year), nil
	}
	return ledger.MonthPeriod(year, month)
}

func runSummary() {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	year, month := periodFlags(fs)
	e, ctx, cancel := setup(fs)
	defer cancel()

	svc := summary.NewService(e.repo, e.cache, 0)

	var (
		sum *summary.Summary
		err error
	)
	if *month == 0 {
		sum, err = svc.Yearly(ctx, *year)
	} else {
		sum, err = svc.Monthly(ctx, *year, *month)
	}
	if err != nil {
		e.log.Fatal().Err(err).Msg("Summary failed")
	}
	printJSON(sum)
}

func runImportInvoices() {
	fs := flag.NewFlagSet("import-invoices", flag.ExitOnError)
	e, ctx, cancel := setup(fs)
	defer cancel()

	if !e.cfg.InvoiceImportEnabled() {
		e.log.Fatal().Msg("Error: scraper.url is not configured")
	}

	importer, err := app.NewImporter(ctx, e.cfg, e.repo, e.cache, e.api)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to create invoice importer")
	}

	result, err := importer.Import(ctx)
	if result != nil {
		printJSON(result)
	}
	if err != nil {
		e.log.Fatal().Err(err).Msg("Invoice import failed")
	}
}

func runSetCarrier() {
	fs := flag.NewFlagSet("set-carrier", flag.ExitOnError)
	account := fs.String("account", "", "Account name or id")
	e, ctx, cancel := setup(fs)
	defer cancel()

	if strings.TrimSpace(*account) == "" {
		e.log.Fatal().Msg("Error: --account is required")
	}

	id := *account
	if acc, err := e.repo.FindAccountByName(ctx, *account); err == nil {
		id = acc.ID
	}

	if err := e.repo.SetSoleCarrierAccount(ctx, id); err != nil {
		e.log.Fatal().Err(err).Msg("Failed to set carrier account")
	}
	e.accountsChanged(ctx)

	acc, err := e.repo.CarrierAccount(ctx)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to read carrier account")
	}
	printJSON(acc)
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	year, month := periodFlags(fs)
	formatName := fs.String("format", "csv", "Output format: csv or xlsx")
	out := fs.String("out", "", "Output file (defaults to stdout)")
	upload := fs.Bool("upload", false, "Upload to the configured export bucket instead")
	e, ctx, cancel := setup(fs)
	defer cancel()

	format, err := export.ParseFormat(*formatName)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Invalid format")
	}
	p, err := period(*year, *month)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Invalid period")
	}

	entries, err := e.repo.ListEntries(ctx, &p.Start, &p.End)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to list entries")
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, entries); err != nil {
		e.log.Fatal().Err(err).Msg("Failed to render export")
	}

	switch {
	case *upload:
		uploader, err := gcs.NewUploader(ctx, e.cfg.Export.Bucket, e.cfg.Export.CredentialsFile)
		if err != nil {
			e.log.Fatal().Err(err).Msg("Failed to create uploader")
		}
		defer uploader.Close()

		uri, err := uploader.Upload(ctx, gcs.ObjectName(time.Now(), string(format)), format.ContentType(), &buf)
		if err != nil {
			e.log.Fatal().Err(err).Msg("Upload failed")
		}
		fmt.Println(uri)
	case *out != "":
		if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
			e.log.Fatal().Err(err).Str("file", *out).Msg("Failed to write export")
		}
		e.log.Info().Str("file", *out).Int("entries", len(entries)).Msg("Export written")
	default:
		_, _ = io.Copy(os.Stdout, &buf)
	}
}

func runMirror() {
	fs := flag.NewFlagSet("mirror", flag.ExitOnError)
	startDate := fs.String("start", "", "First day to mirror (YYYY-MM-DD)")
	endDate := fs.String("end", "", "Last day to mirror (YYYY-MM-DD)")
	e, ctx, cancel := setup(fs)
	defer cancel()

	if e.cfg.BigQuery.ProjectID == "" {
		e.log.Fatal().Msg("Error: bigquery.project_id is not configured")
	}

	start, err := optionalDate(*startDate)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Invalid --start")
	}
	end, err := optionalDate(*endDate)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Invalid --end")
	}

	entries, err := e.repo.ListEntries(ctx, start, end)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to list entries")
	}

	mirror, err := infraBQ.NewMirror(ctx, e.cfg.BigQuery.ProjectID, e.cfg.BigQuery.Dataset, e.cfg.BigQuery.Table, e.cfg.BigQuery.CredentialsFile)
	if err != nil {
		e.log.Fatal().Err(err).Msg("Failed to create BigQuery mirror")
	}
	defer mirror.Close()

	sent, err := mirror.MirrorEntries(ctx, entries)
	if err != nil {
		e.log.Fatal().Err(err).Int("sent", sent).Msg("Mirror failed")
	}
	e.log.Info().Int("rows", sent).Msg("Entries mirrored")
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := ledger.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
