package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/user"
)

// addUser updates the password, roles & activation of an existing user, or creates a new one.
func (cli *commandLine) addUser(nu user.NewUser) error {
	ctx := context.Background()
	nu.Clean()

	lookup := nu.Username
	if lookup == "" {
		lookup = nu.Email
	}
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, lookup)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		if err = nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
			return cli.explain(err)
		}
		usr, err = cli.usrSvc.Create(ctx, nu)
		if err != nil {
			return cli.explain(errors.Wrap(err, "creating user"))
		}
		fmt.Printf("user %s created\n", usr.Username)
		return nil
	}

	if err = user.ValidatePassword(cli.validate, usr, nu.Password); err != nil {
		return cli.explain(err)
	}
	if len(nu.Roles) > 0 {
		usr.Roles = nu.Roles
	}
	if usr, err = cli.usrSvc.SetPassword(ctx, usr, nu.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	if usr, err = cli.usrSvc.SetActive(ctx, usr, true); err != nil {
		return errors.Wrap(err, "activating user")
	}
	fmt.Printf("user %s updated\n", usr.Username)
	return nil
}
