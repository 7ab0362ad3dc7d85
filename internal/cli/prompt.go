package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// prompter reads answers from the command's input. One bufio.Reader is kept
// per command so buffered input is not lost between questions.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	raw io.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{
		in:  bufio.NewReader(cmd.InOrStdin()),
		out: cmd.OutOrStdout(),
		raw: cmd.InOrStdin(),
	}
}

// ask prints question and returns the trimmed answer, or def when empty.
func (p *prompter) ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF && def != "" {
			return def, nil
		}
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

// secret reads a value without echo when input is a terminal.
func (p *prompter) secret(question string) (string, error) {
	if f, ok := p.raw.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(p.out, "%s: ", question)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return p.ask(question, "")
}

// confirm asks a yes/no question; anything but y/yes is no.
func (p *prompter) confirm(question string) bool {
	answer, err := p.ask(question+" (y/N)", "")
	if err != nil {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}

// readSecret prompts on stderr so stdout stays clean for command output.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	p := newPrompter(cmd)
	p.out = cmd.ErrOrStderr()
	return p.secret(strings.TrimSuffix(prompt, ": "))
}
