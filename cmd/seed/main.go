// Command seed provisions a user directly against the configured database.
//
//	seed -email doc@clinic.org -name "Dr Who" -role DOCTOR [-diagnosis ...]
//
// The password is read from the terminal without echo. Server flags such as
// -d and -k are honoured as well.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/flagx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/server"
	"github.com/dmitrijs2005/medkeeper/internal/server/config"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/dmitrijs2005/medkeeper/internal/server/services"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type seedFlags struct {
	email     string
	name      string
	role      string
	diagnosis string
}

func parseSeedFlags(args []string) (*seedFlags, error) {
	args = flagx.FilterArgs(args, []string{"-email", "-name", "-role", "-diagnosis"})

	f := &seedFlags{}
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&f.email, "email", "", "user email")
	fs.StringVar(&f.name, "name", "", "display name")
	fs.StringVar(&f.role, "role", string(models.RolePatient), "ADMIN, DOCTOR, NURSE or PATIENT")
	fs.StringVar(&f.diagnosis, "diagnosis", "", "optional diagnosis")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.email == "" || f.name == "" {
		return nil, errors.New("-email and -name are required")
	}
	if !models.Role(f.role).Valid() {
		return nil, fmt.Errorf("unknown role %q", f.role)
	}
	return f, nil
}

// promptPassword reads the password twice and requires both to match.
func promptPassword(w io.Writer, fd int) ([]byte, error) {
	fmt.Fprint(w, "Enter password: ")
	pw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}

	fmt.Fprint(w, "Repeat password: ")
	again, err := readPassword(fd)
	fmt.Fprintln(w)
	defer common.WipeByteArray(again)
	if err != nil {
		common.WipeByteArray(pw)
		return nil, err
	}

	if string(pw) != string(again) {
		common.WipeByteArray(pw)
		return nil, errors.New("passwords do not match")
	}
	return pw, nil
}

func run(ctx context.Context) error {
	f, err := parseSeedFlags(os.Args[1:])
	if err != nil {
		return err
	}

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	pw, err := promptPassword(os.Stdout, int(os.Stdin.Fd()))
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	logger := logging.NewJSONLogger(os.Stderr, slog.LevelWarn)

	st, err := server.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := server.NewServices(cfg, st.DB, st.Repos, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.Accounts.Create(ctx, services.RequestMeta{UserAgent: "medkeeper-seed"}, services.NewAccount{
		Email:     f.email,
		Name:      f.name,
		Diagnosis: f.diagnosis,
		Password:  string(pw),
		Role:      models.Role(f.role),
	})
	if err != nil {
		return err
	}

	fmt.Printf("created %s %s (%s)\n", p.Role, p.Email, p.ID)
	return nil
}

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatalf("seed: %v", err)
	}
}
