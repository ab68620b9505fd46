package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/MrEthical07/authflow"
)

// prompter reads answers from the terminal. Secrets are read without echo
// when stdin is a terminal and as plain lines otherwise, so scripted input
// works.
type prompter struct {
	in       *bufio.Reader
	terminal *os.File
	out      io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.terminal = f
	}
	return p
}

func (p *prompter) line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	s, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || s == "") {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

func (p *prompter) lineDefault(label, def string) (string, error) {
	s, err := p.line(fmt.Sprintf("%s [%s]", label, def))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return s, nil
}

func (p *prompter) secret(label string) (string, error) {
	if p.terminal == nil {
		return p.line(label)
	}
	fmt.Fprintf(p.out, "%s: ", label)
	b, err := term.ReadPassword(int(p.terminal.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return string(b), nil
}

// renderErrors prints the form-level message first, then field messages in
// a stable order.
func renderErrors(w io.Writer, errs authflow.FormErrors) {
	if errs.Form != "" {
		fmt.Fprintf(w, "! %s\n", errs.Form)
	}
	fields := make([]string, 0, len(errs.Fields))
	for field := range errs.Fields {
		fields = append(fields, string(field))
	}
	sort.Strings(fields)
	for _, field := range fields {
		fmt.Fprintf(w, "! %s: %s\n", field, errs.Fields[authflow.Field(field)])
	}
}

// recoverable reports whether a flow error was already rendered to the user
// and the flow can continue with new input.
func recoverable(err error) bool {
	var reqErr *authflow.RequestError
	switch {
	case errors.As(err, &reqErr):
		return true
	case errors.Is(err, authflow.ErrValidation),
		errors.Is(err, authflow.ErrAttemptsExhausted),
		errors.Is(err, authflow.ErrCooldownActive),
		errors.Is(err, authflow.ErrResetSessionExpired):
		return true
	default:
		return false
	}
}

// settle renders the errors of a failed step and decides whether the flow
// loop keeps going.
func (c *cli) settle(errs authflow.FormErrors, err error) error {
	if err == nil {
		return nil
	}
	renderErrors(c.stdout, errs)
	if recoverable(err) {
		return nil
	}
	return err
}
