// Command shepherdctl runs operator tasks that no tenant principal may
// perform through the API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/hugh/go-shepherd/internal/api/validation"
	"github.com/hugh/go-shepherd/internal/authz"
	"github.com/hugh/go-shepherd/internal/database"
	"github.com/hugh/go-shepherd/internal/directory"
	"github.com/hugh/go-shepherd/pkg/config"
	"github.com/hugh/go-shepherd/pkg/crypto"
	"github.com/hugh/go-shepherd/pkg/util"
)

const usage = `usage: shepherdctl <command> [flags]

commands:
  gen-key                    print a new ENCRYPTION_KEY and its recipient
  activate-tenant -id <id>   turn a deactivated tenant back on
`

var errUsage = errors.New("invalid usage")

func main() {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := run(ctx, os.Args[1:], os.Stdout, connect)
	if errors.Is(err, errUsage) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "shepherdctl:", err)
		os.Exit(1)
	}
}

type opener func() (db *gorm.DB, logger *slog.Logger, closeDB func(), err error)

// connect opens the configured database and returns the logger to use with it.
func connect() (*gorm.DB, *slog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLogger(cfg.Server.Env)
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return db, logger, closeDB, nil
}

func run(ctx context.Context, args []string, out io.Writer, open opener) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "gen-key":
		return genKey(out)
	case "activate-tenant":
		fs := flag.NewFlagSet("activate-tenant", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		id := fs.String("id", "", "tenant id")
		if err := fs.Parse(args[1:]); err != nil {
			return errUsage
		}
		if !validation.IsValidUUID(*id) {
			return fmt.Errorf("%w: -id must be a tenant uuid", errUsage)
		}

		db, logger, closeDB, err := open()
		if err != nil {
			return err
		}
		defer closeDB()

		dir := directory.NewService(db, authz.NewResolver(nil), util.SystemClock{}, logger)
		tenant, err := dir.ActivateTenant(ctx, uuid.MustParse(*id))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "tenant %s (%s) is active\n", tenant.ID, tenant.Name)
		return nil
	default:
		return errUsage
	}
}

func genKey(out io.Writer) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ENCRYPTION_KEY=%s\n# recipient: %s\n", key, enc.PublicKey())
	return nil
}
