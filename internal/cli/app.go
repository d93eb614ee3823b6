// Package cli implements the passe command line client.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"passe/internal/client"
	"passe/internal/domain"
)

// Clipboard receives generated passwords.
type Clipboard interface {
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("no clipboard utility available")
	}
	return clipboard.WriteAll(text)
}

// App carries the process-level collaborators of every command. Tests swap
// them out; New fills in the terminal-backed defaults.
type App struct {
	In        *bufio.Reader
	Out       io.Writer
	Err       io.Writer
	Clipboard Clipboard
	// ReadSecret prints prompt and reads a line without echo.
	ReadSecret func(prompt string) (string, error)
	HTTPClient *http.Client
	Log        *logrus.Logger
}

// New returns an App wired to the process's terminal.
func New() *App {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)

	app := &App{
		In:        bufio.NewReader(os.Stdin),
		Out:       os.Stdout,
		Err:       os.Stderr,
		Clipboard: systemClipboard{},
		Log:       log,
	}
	app.ReadSecret = app.readTerminalSecret
	return app
}

func (a *App) readTerminalSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return a.readLine(prompt)
	}
	fmt.Fprint(a.Err, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(a.Err)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(secret), nil
}

// readLine prints prompt to the error stream and reads one trimmed line.
func (a *App) readLine(prompt string) (string, error) {
	fmt.Fprint(a.Err, prompt)
	line, err := a.In.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// editSetting prompts with the current value as a hint; empty input keeps it.
func (a *App) editSetting(desc, current string) (string, error) {
	prompt := desc + ": "
	if current != "" {
		prompt = fmt.Sprintf("%s: [%s] ", desc, current)
	}
	reply, err := a.readLine(prompt)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return current, nil
	}
	return reply, nil
}

// PromptCredentials asks for the sync user and password, offering lastUser
// as the default name.
func (a *App) PromptCredentials(_ context.Context, lastUser string) (domain.LoginRequest, error) {
	prompt := "User: "
	if lastUser != "" {
		prompt = fmt.Sprintf("User: [%s] ", lastUser)
	}
	user, err := a.readLine(prompt)
	if err != nil {
		return domain.LoginRequest{}, err
	}
	if user == "" {
		user = lastUser
	}
	if user == "" {
		return domain.LoginRequest{}, fmt.Errorf("user required")
	}
	password, err := a.ReadSecret("Sync password: ")
	if err != nil {
		return domain.LoginRequest{}, err
	}
	return domain.LoginRequest{User: user, Password: password}, nil
}

var _ client.CredentialPrompter = (*App)(nil)
