package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/attendance"
	"github.com/trezcool/academia/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	nowFunc          = time.Now          // mockable

	errHelp = errors.New("help provided")
)

// sweeper closes a day and reports it.
type sweeper interface {
	Sweep(ctx context.Context, t time.Time) (attendance.SweepSummary, error)
}

type commandLine struct {
	db         *sql.DB
	usrSvc     user.Service
	sweeper    sweeper
	validate   *validator.Validate
	translator ut.Translator
	conf       *core.Config
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command (up, up-by-one, up-to, down, down-to, redo, reset, status, version)")
	fmt.Println("  adduser -name NAME -username USERNAME -email EMAIL [-roles ROLES] [-matricule M] [-referential R] [-promotion P] - create or update a user")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  sweep [-date YYYY-MM-DD] - close an attendance day (defaults to today)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRoles := addUserCmd.String("roles", user.RoleAdmin, "Comma separated roles, e.g. \"coach:,scanner:\".")
	addUserMatricule := addUserCmd.String("matricule", "", "The learner's matricule.")
	addUserRef := addUserCmd.String("referential", "", "The referential the user belongs to.")
	addUserPromo := addUserCmd.String("promotion", "", "The promotion the learner belongs to.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	sweepCmd := flag.NewFlagSet("sweep", flag.ContinueOnError)
	sweepDate := sweepCmd.String("date", "", "The day to close, formatted as YYYY-MM-DD.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" && *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(user.NewUser{
			Name:            *addUserName,
			Username:        *addUserUname,
			Email:           *addUserEmail,
			Matricule:       *addUserMatricule,
			ReferentialID:   *addUserRef,
			PromotionID:     *addUserPromo,
			Password:        pwd,
			PasswordConfirm: pwd,
			Roles:           splitRoles(*addUserRoles),
		})

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "sweep":
		if err := sweepCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.sweep(*sweepDate)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func splitRoles(s string) []string {
	roles := make([]string, 0)
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// explain turns validation errors into one readable line, one "field: message" per field.
func (cli *commandLine) explain(err error) error {
	var (
		verrs validator.ValidationErrors
		vErr  *core.ValidationError
		msgs  []string
	)
	switch {
	case errors.As(err, &verrs):
		for field, msg := range verrs.Translate(cli.translator) {
			msgs = append(msgs, fmt.Sprintf("%s: %s", strings.ToLower(field[strings.LastIndex(field, ".")+1:]), msg))
		}
	case errors.As(err, &vErr) && len(vErr.Fields) > 0:
		for _, fe := range vErr.Fields {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Error))
		}
	default:
		return err
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}
