package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/session"
)

// console serializes everything the tabs print. Remote changes arrive on bus
// goroutines while the shell waits for input.
type console struct {
	mu    sync.Mutex
	out   io.Writer
	lines *bufio.Scanner
	// plain answers prompts from the input stream instead of huh forms.
	plain bool

	label    lipgloss.Style
	muted    lipgloss.Style
	alertSt  lipgloss.Style
	conflict lipgloss.Style
}

func newConsole(in io.Reader, out io.Writer, plain bool) *console {
	r := lipgloss.NewRenderer(out)
	return &console{
		out:     out,
		lines:   bufio.NewScanner(in),
		plain:   plain,
		label:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		alertSt: r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		conflict: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(0, 1),
	}
}

// isTerminal reports whether in is an interactive character device.
func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func (c *console) readLine() (string, bool) {
	if !c.lines.Scan() {
		return "", false
	}
	return c.lines.Text(), true
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) prompt(label, state string) {
	c.printf("%s %s> ", c.label.Render(label), c.muted.Render("("+state+")"))
}

func (c *console) event(label, format string, args ...any) {
	c.printf("%s %s\n", c.label.Render(label), fmt.Sprintf(format, args...))
}

func (c *console) alert(label, msg string) {
	c.printf("%s %s\n", c.label.Render(label), c.alertSt.Render(msg))
}

func (c *console) showConflict(label string, change session.PendingAuthChange) {
	var b strings.Builder
	b.WriteString(describeChange(change))
	b.WriteString("\n")
	if change.UnsavedSummary != "" {
		fmt.Fprintf(&b, "You have %s.\n", change.UnsavedSummary)
	}
	b.WriteString("\n")
	b.WriteString("resolve save     save your work, then follow\n")
	b.WriteString("resolve discard  follow without saving\n")
	b.WriteString("resolve dismiss  keep working here")
	c.printf("%s\n%s\n", c.label.Render(label), c.conflict.Render(b.String()))
}

func describeChange(change session.PendingAuthChange) string {
	switch change.Kind {
	case broadcast.KindLogout:
		return "Another tab signed out."
	case broadcast.KindLogin:
		if change.IncomingUser != nil {
			return fmt.Sprintf("Another tab signed in as %s.", change.IncomingUser.DisplayName())
		}
		return "Another tab signed in as a different user."
	case broadcast.KindCompanySwitch:
		if change.IncomingUser != nil && change.IncomingUser.CompanyName != "" {
			return fmt.Sprintf("Another tab switched to %s.", change.IncomingUser.CompanyName)
		}
		return "Another tab switched company."
	default:
		return "Another tab changed the session."
	}
}

func (c *console) confirm(ctx context.Context, label, msg string) bool {
	if c.plain {
		c.printf("%s %s [y/N] ", c.label.Render(label), msg)
		line, ok := c.readLine()
		if !ok {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}

	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(msg).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).WithShowHelp(false)
	if err := form.RunWithContext(ctx); err != nil {
		return false
	}
	return ok
}

func (c *console) password(ctx context.Context) (string, error) {
	if c.plain {
		c.printf("password: ")
		line, ok := c.readLine()
		if !ok {
			return "", io.ErrUnexpectedEOF
		}
		return line, nil
	}

	var pw string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&pw),
	)).WithShowHelp(false)
	if err := form.RunWithContext(ctx); err != nil {
		return "", err
	}
	return pw, nil
}

// navigator is a tab's location. Reload is deferred to the shell, which
// rebuilds the tab's coordinator between commands.
type navigator struct {
	con   *console
	label string

	mu     sync.Mutex
	route  string
	reload bool
}

func newNavigator(con *console, label string) *navigator {
	return &navigator{con: con, label: label, route: session.RouteLogin}
}

func (n *navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}

func (n *navigator) Navigate(route string) {
	n.mu.Lock()
	n.route = route
	n.mu.Unlock()
	n.con.event(n.label, "navigated to %s", route)
}

func (n *navigator) Reload() {
	n.mu.Lock()
	n.reload = true
	n.mu.Unlock()
	n.con.event(n.label, "reloading")
}

func (n *navigator) takeReload() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := n.reload
	n.reload = false
	return r
}

type prompter struct {
	con   *console
	label string
}

func (p *prompter) Confirm(ctx context.Context, message string) bool {
	return p.con.confirm(ctx, p.label, message)
}

func (p *prompter) ShowConflict(change session.PendingAuthChange) {
	p.con.showConflict(p.label, change)
}

func (p *prompter) HideConflict() {
	p.con.event(p.label, "conflict prompt closed")
}

func (p *prompter) Alert(message string) {
	p.con.alert(p.label, message)
}
