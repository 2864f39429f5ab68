// Command create-admin provisions an administrator account in the
// postboard database. The password is read from POSTBOARD_ADMIN_PASSWORD
// when set, otherwise it is prompted for on the terminal without echo.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dmitrijs2005/postboard/internal/cryptox"
	"github.com/dmitrijs2005/postboard/internal/flagx"
	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/config"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/postboard/internal/server/services"
	"golang.org/x/term"
)

const passwordEnv = "POSTBOARD_ADMIN_PASSWORD"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("create-admin: %v", err)
	}
}

func run(ctx context.Context, args []string, w io.Writer) error {
	var username string

	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&username, "username", "", "administrator user name")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-username", "--username"})); err != nil {
		return err
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("-username is required")
	}

	password, err := adminPassword(w)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := repomanager.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	svc := services.NewAdminService(db, rm, cryptox.NewBcryptVerifier(cfg.BcryptCost), cfg,
		logging.NewTextLogger(os.Stderr, cfg.LogLevel))
	id, err := svc.CreateAdmin(ctx, username, password)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "admin %q created with id %d\n", username, id)
	return nil
}

func adminPassword(w io.Writer) (string, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return pw, nil
	}

	fmt.Fprint(w, "Enter password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
