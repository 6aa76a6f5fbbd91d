// Command scan resolves a student identifier from QR frames on disk or typed
// text, optionally looking the record up in the database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"verifyme/internal/audit"
	"verifyme/internal/auth"
	"verifyme/internal/logging"
	"verifyme/internal/qr"
	"verifyme/internal/resolver"
	"verifyme/internal/scanner"
	"verifyme/internal/sentinel"
	"verifyme/internal/store"
	"verifyme/internal/student"
	"verifyme/internal/verification"
)

type options struct {
	dir      string
	loop     bool
	interval time.Duration
	timeout  time.Duration
	facing   string
	text     string
	driver   string
	dbURL    string
	operator string
	verbose  bool
}

func main() {
	var o options
	flags := pflag.NewFlagSet("scan", pflag.ExitOnError)
	flags.StringVarP(&o.dir, "frames", "f", "", "directory of image frames to scan")
	flags.BoolVar(&o.loop, "loop", false, "replay frames until a code is found")
	flags.DurationVar(&o.interval, "interval", 100*time.Millisecond, "frame polling interval")
	flags.DurationVar(&o.timeout, "timeout", 30*time.Second, "give up after this long")
	flags.StringVar(&o.facing, "facing", string(scanner.FacingEnvironment), "camera facing mode (environment|user)")
	flags.StringVarP(&o.text, "text", "t", "", "resolve typed text instead of scanning frames")
	flags.StringVar(&o.driver, "db-driver", "sqlite", "database driver for lookups (postgres|sqlite)")
	flags.StringVar(&o.dbURL, "db-url", "", "database to look the student up in; prints the id only when empty")
	flags.StringVar(&o.operator, "operator", "", "operator name recorded in the scan log")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "log pipeline activity")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		fmt.Fprintln(os.Stderr, "scan:", err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, o options) error {
	raw := o.text
	if raw == "" {
		if o.dir == "" {
			return fmt.Errorf("%w: pass --frames or --text", sentinel.ErrEmptyInput)
		}
		var err error
		if raw, err = capture(ctx, o); err != nil {
			return err
		}
	}

	if o.dbURL == "" {
		id, err := resolver.Resolve(raw)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	}

	db, err := store.NewDB(ctx, o.driver, o.dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := student.NewRepository(db.Client)
	svc := verification.NewService(repo, audit.NewStoreSink(repo), nil)
	rec, err := svc.Lookup(ctx, auth.Identity{Email: o.operator}, raw)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func capture(ctx context.Context, o options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	logger := logging.Discard()
	if o.verbose {
		logger = logging.New("dev")
	}

	found := make(chan string, 1)
	cons := scanner.DefaultConstraints()
	cons.Facing = scanner.ParseFacing(o.facing)
	p := scanner.New(scanner.FileCamera{Dir: o.dir, Loop: o.loop}, qr.NewDecoder(),
		func(_ context.Context, raw string) { found <- raw },
		scanner.WithInterval(o.interval),
		scanner.WithConstraints(cons),
		scanner.WithLogger(logger),
	)
	if err := p.StartCapture(ctx); err != nil {
		return "", err
	}
	defer p.StopCapture()

	select {
	case raw := <-found:
		return raw, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: no QR code found in %s", qr.ErrNoCode, o.dir)
		}
		return "", ctx.Err()
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return 3
	case errors.Is(err, sentinel.ErrInvalidFormat), errors.Is(err, sentinel.ErrEmptyInput), errors.Is(err, qr.ErrNoCode):
		return 2
	default:
		return 1
	}
}
