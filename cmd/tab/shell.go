package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sessionkit/internal/authclient"
	"sessionkit/internal/session"
)

// shell reads commands and applies them to the selected tab.
type shell struct {
	con     *console
	tabs    []*tab
	current int
	quit    bool
}

func newShell(ctx context.Context, env *environment, con *console, count int) (*shell, error) {
	if count < 1 {
		count = 1
	}
	s := &shell{con: con}
	for i := 1; i <= count; i++ {
		t, err := newTab(ctx, env, con, i)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("open tab %d: %w", i, err)
		}
		s.tabs = append(s.tabs, t)
	}
	return s, nil
}

func (s *shell) tab() *tab {
	return s.tabs[s.current]
}

// Run reads until quit or end of input.
func (s *shell) Run(ctx context.Context) error {
	defer s.close()
	for !s.quit {
		if err := ctx.Err(); err != nil {
			return nil
		}
		s.con.prompt(s.tab().label, s.tab().coord.State().String())
		line, ok := s.con.readLine()
		if !ok {
			return nil
		}
		s.exec(ctx, line)
	}
	return nil
}

// exec runs one command line and then honors any reload it triggered.
func (s *shell) exec(ctx context.Context, line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}
	cmd := s.commands()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		s.con.alert(s.tab().label, err.Error())
	}
	for _, t := range s.tabs {
		if err := t.reloadIfRequested(ctx); err != nil {
			s.con.alert(t.label, err.Error())
		}
	}
}

func (s *shell) close() {
	for _, t := range s.tabs {
		t.close()
	}
}

func (s *shell) commands() *cobra.Command {
	root := &cobra.Command{
		Use:           "",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(s.con.out)
	root.SetErr(s.con.out)

	root.AddCommand(
		&cobra.Command{
			Use:   "login <email> [password]",
			Short: "Sign in and tell the other tabs",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				password := ""
				if len(args) == 2 {
					password = args[1]
				} else {
					pw, err := s.con.password(cmd.Context())
					if err != nil {
						return err
					}
					password = pw
				}
				return s.tab().coord.Login(cmd.Context(), args[0], password)
			},
		},
		&cobra.Command{
			Use:   "signup <email> <password> <first-name> [last-name]",
			Short: "Create an account",
			Args:  cobra.RangeArgs(3, 4),
			RunE: func(cmd *cobra.Command, args []string) error {
				req := authclient.SignupRequest{Email: args[0], Password: args[1], FirstName: args[2]}
				if len(args) == 4 {
					req.LastName = args[3]
				}
				res, err := s.tab().coord.Signup(cmd.Context(), req)
				if err != nil {
					return err
				}
				s.con.event(s.tab().label, "%s", res.Message)
				return nil
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Sign out every tab",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				done, err := s.tab().coord.Logout(cmd.Context())
				if err != nil {
					return err
				}
				if !done {
					s.con.event(s.tab().label, "logout cancelled")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Renew the access token now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := s.tab().coord.Refresh(cmd.Context()); err != nil {
					return err
				}
				if due, ok := s.tab().coord.RenewalDue(); ok {
					s.con.event(s.tab().label, "renewal due %s", due.Format(time.RFC3339))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "me",
			Short: "Fetch the current user",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				u, err := s.tab().coord.CurrentUser(cmd.Context())
				if err != nil {
					return err
				}
				s.con.event(s.tab().label, "%s <%s> in %s", u.DisplayName(), u.Email, companyOf(u.CompanyName, u.CompanyID))
				return nil
			},
		},
		&cobra.Command{
			Use:   "switch <company-id>",
			Short: "Act in another company",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				switched, err := s.tab().coord.SwitchCompany(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !switched {
					s.con.event(s.tab().label, "company unchanged")
				}
				return nil
			},
		},
		s.editCommand(),
		&cobra.Command{
			Use:   "save <id>",
			Short: "Save one work item",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return s.tab().save(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "resolve <save|discard|dismiss>",
			Short: "Answer the open conflict prompt",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := session.ParseResolution(args[0])
				if err != nil {
					return err
				}
				return s.tab().coord.ResolveConflict(cmd.Context(), r)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show every tab",
			Args:  cobra.NoArgs,
			Run: func(_ *cobra.Command, _ []string) {
				for i, t := range s.tabs {
					s.printStatus(t, i == s.current)
				}
			},
		},
		&cobra.Command{
			Use:   "use <n>",
			Short: "Select the tab commands apply to",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 || n > len(s.tabs) {
					return fmt.Errorf("tab must be between 1 and %d", len(s.tabs))
				}
				s.current = n - 1
				return nil
			},
		},
		&cobra.Command{
			Use:     "quit",
			Aliases: []string{"exit"},
			Short:   "Close every tab",
			Args:    cobra.NoArgs,
			Run: func(_ *cobra.Command, _ []string) {
				s.quit = true
			},
		},
	)
	return root
}

func (s *shell) editCommand() *cobra.Command {
	var failing bool
	cmd := &cobra.Command{
		Use:   "edit <id> [label...]",
		Short: "Start unsaved work in this tab",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			label := args[0]
			if len(args) > 1 {
				label = strings.Join(args[1:], " ")
			}
			s.tab().edit(args[0], label, failing)
			return nil
		},
	}
	cmd.Flags().BoolVar(&failing, "fail-save", false, "make saving this item fail")
	return cmd
}

func (s *shell) printStatus(t *tab, selected bool) {
	coord := t.coord
	marker := " "
	if selected {
		marker = "*"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s state=%s route=%s", marker, coord.State(), t.nav.Current())
	if u := coord.Session().User; u != nil {
		fmt.Fprintf(&b, " user=%s company=%s", u.Email, companyOf(u.CompanyName, u.CompanyID))
	}
	if due, ok := coord.RenewalDue(); ok {
		fmt.Fprintf(&b, " renews=%s", due.Format(time.TimeOnly))
	}
	if t.work.HasUnsavedWork() {
		fmt.Fprintf(&b, " unsaved=%q", t.work.Summary())
	}
	if p, ok := coord.Pending(); ok {
		fmt.Fprintf(&b, " pending=%s", p.Kind)
	}
	if t.bus.Degraded() {
		b.WriteString(" broadcast=fallback")
	}
	s.con.event(t.label, "%s", b.String())
}

func companyOf(name, id string) string {
	if name != "" {
		return name
	}
	if id != "" {
		return id
	}
	return "-"
}

// runShell wires the environment, opens the tabs and blocks in the shell.
func runShell(ctx context.Context, env *environment, in io.Reader, out io.Writer, tabs int, plain bool) error {
	con := newConsole(in, out, plain || !isTerminal(in))
	sh, err := newShell(ctx, env, con, tabs)
	if err != nil {
		return err
	}
	if len(sh.tabs) > 1 {
		con.printf("%d tabs open. Type \"use <n>\" to switch and \"help\" for commands.\n", len(sh.tabs))
	}
	if err := sh.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
