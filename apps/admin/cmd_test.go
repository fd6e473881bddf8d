package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-grad/core/modality"
	"github.com/trezcool/masomo-grad/core/user"
	inmemdb "github.com/trezcool/masomo-grad/storage/database/inmem"
	testutil "github.com/trezcool/masomo-grad/tests"
)

var usrRepo user.Repository

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()
	db := inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo)
	out := new(bytes.Buffer)
	return &commandLine{
		usrSvc:      usrSvc,
		modalitySvc: modality.NewService(inmemdb.NewModalityRepository(db), usrSvc, modality.NewEngine(modality.EngineConfig{}), nil, testutil.NopLogger{}),
		out:         out,
	}, out
}

func mockPassword(t *testing.T, pwd string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string
	wantErr    error
	wantErrStr string
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	orig := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = orig })
	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "defense_room", "sql"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(append([]string{"admin"}, tt.args...))
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantErrStr, err.Error())
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, _ := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, usrRepo, "User", "awesome", "awe@test.cd", "mdr", nil, true)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, pwd: "new-pass-1"},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, pwd: "new-pass-2"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(t, tt.pwd)

			err := cli.run(append([]string{"admin"}, tt.args...))
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)

			refreshed, err := cli.usrSvc.GetByID(ctx, usr.ID)
			require.NoError(t, err)
			assert.NoError(t, refreshed.CheckPassword(tt.pwd))
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		cliTest
		wantRoles []string
	}{
		{cliTest: cliTest{name: "no identity", args: []string{"adduser", "-name", "Nobody"}, pwd: "pwd", wantErr: errHelp}},
		{cliTest: cliTest{name: "no password", args: []string{"adduser", "-username", "student1"}, wantErr: errHelp}},
		{cliTest: cliTest{name: "unknown role", args: []string{"adduser", "-username", "student1", "-roles", "janitor"}, pwd: "pwd", wantErrStr: "\"janitor\": unknown role"}},
		{
			cliTest:   cliTest{name: "create student", args: []string{"adduser", "-name", "Stu Dent", "-username", "Student1", "-email", "stu@test.cd", "-roles", "student:"}, pwd: "pwd-1"},
			wantRoles: []string{user.RoleStudent},
		},
		{
			cliTest:   cliTest{name: "promote existing", args: []string{"adduser", "-username", "student1", "-roles", "student:,faculty:examiner"}, pwd: "pwd-2"},
			wantRoles: []string{user.RoleStudent, user.RoleExaminer},
		},
		{
			cliTest:   cliTest{name: "admin", args: []string{"adduser", "-username", "student1", "-admin"}, pwd: "pwd-3"},
			wantRoles: user.AllRoles,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(t, tt.pwd)

			err := cli.run(append([]string{"admin"}, tt.args...))
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
				return
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantErrStr, err.Error())
				return
			}
			require.NoError(t, err)

			usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, "student1")
			require.NoError(t, err)
			assert.Equal(t, "stu@test.cd", usr.Email)
			assert.True(t, usr.IsActive)
			assert.ElementsMatch(t, tt.wantRoles, usr.Roles)
			assert.NoError(t, usr.CheckPassword(tt.pwd))
		})
	}
}

func Test_commandLine_addType(t *testing.T) {
	cli, out := setup(t)

	assert.Equal(t, errHelp, cli.run([]string{"admin", "addtype"}))

	err := cli.run([]string{"admin", "addtype", "-name", "Thesis", "-docs", "Annex:bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown document option")

	err = cli.run([]string{"admin", "addtype", "-name", "Thesis", "-description", "Research work",
		"-docs", "Proposal:mandatory, Final document:mandatory:reviewable,Annex"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `created modality type "Thesis"`)

	types, err := cli.modalitySvc.QueryTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 1)
	docs := types[0].RequiredDocuments
	require.Len(t, docs, 3)

	byName := make(map[string]modality.RequiredDocument)
	for _, doc := range docs {
		byName[doc.Name] = doc
	}
	assert.True(t, byName["Proposal"].Mandatory)
	assert.False(t, byName["Proposal"].ExaminerReviewable)
	assert.True(t, byName["Final document"].Mandatory)
	assert.True(t, byName["Final document"].ExaminerReviewable)
	assert.False(t, byName["Annex"].Mandatory)
}

func Test_commandLine_transitions(t *testing.T) {
	cli, out := setup(t)

	require.NoError(t, cli.run([]string{"admin", "transitions"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasPrefix(lines[0], "FROM"))
	assert.Len(t, lines, len(cli.modalitySvc.Engine().Rules())+1)
	assert.Contains(t, out.String(), string(modality.StatusModalitySelected))
	assert.Contains(t, out.String(), string(modality.ActionSubmit))
}
