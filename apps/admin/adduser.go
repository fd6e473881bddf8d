package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-grad/core"
	"github.com/trezcool/masomo-grad/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, roles []string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if name = core.CleanString(name); name == "" {
		name = uname
	}
	if isAdmin {
		roles = user.AllRoles
	}
	for _, role := range roles {
		if user.RolePriority(role) == 0 {
			return errors.Errorf("%q: unknown role", role)
		}
	}

	lookup := uname
	if lookup == "" {
		lookup = email
	}
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, lookup)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			return err
		}
		if err := cli.usrSvc.CheckUniqueness(ctx, uname, email); err != nil {
			return err
		}
		_, err = cli.usrSvc.Create(ctx, user.NewUser{
			Name:     name,
			Username: uname,
			Email:    email,
			Password: pwd,
			Roles:    roles,
		})
		return err
	}

	active := true
	uu := user.UpdateUser{
		Name:     name,
		Username: usr.Username,
		Email:    usr.Email,
		IsActive: &active,
		Password: pwd,
	}
	if len(roles) > 0 {
		uu.Roles = roles
	}
	if email != "" {
		uu.Email = email
	}
	_, err = cli.usrSvc.Update(ctx, usr, uu)
	return err
}
