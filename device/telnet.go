package device

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// TelnetAdapter implements Adapter over a plain telnet session. Legacy
// network gear often exposes no SSH, so this is kept alongside SSHAdapter
// even though it is a weaker transport; no credential secret is ever
// masked in transit the way SSH masks it, which is exactly why session
// logging (C8) redacts unconditionally regardless of transport.
type TelnetAdapter struct {
	conn           net.Conn
	reader         *bufio.Reader
	target         Target
	usernamePrompt string
	passwordPrompt string
	prompt         string
}

// NewTelnetAdapter creates a TelnetAdapter. usernamePrompt/passwordPrompt
// are the substrings the device emits to request each credential field
// (commonly "ogin:" and "assword:" to tolerate a leading "L"/"P" or not).
func NewTelnetAdapter(usernamePrompt, passwordPrompt, prompt string) *TelnetAdapter {
	if usernamePrompt == "" {
		usernamePrompt = "ogin:"
	}
	if passwordPrompt == "" {
		passwordPrompt = "assword:"
	}
	return &TelnetAdapter{usernamePrompt: usernamePrompt, passwordPrompt: passwordPrompt, prompt: prompt}
}

func (a *TelnetAdapter) Open(ctx context.Context, target Target) error {
	a.target = target
	deadline, ok := ctx.Deadline()
	timeout := 10 * time.Second
	if ok {
		timeout = time.Until(deadline)
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", target.Host, target.Port))
	if err != nil {
		return err
	}
	a.conn = conn
	a.reader = bufio.NewReader(conn)
	return nil
}

func (a *TelnetAdapter) Authenticate(ctx context.Context, creds Credentials) error {
	if err := a.expect(ctx, a.usernamePrompt); err != nil {
		return err
	}
	if err := a.send(creds.Username); err != nil {
		return err
	}
	if err := a.expect(ctx, a.passwordPrompt); err != nil {
		return err
	}
	if err := a.send(creds.Password); err != nil {
		return err
	}
	// a device rejecting credentials re-prompts for username/login; a
	// device accepting them emits its command prompt. Wait briefly and
	// treat a prompt match as success, a login-prompt match as failure.
	line, err := a.readUntilAny(ctx, []string{a.prompt, a.usernamePrompt}, 5*time.Second)
	if err != nil {
		return err
	}
	if strings.Contains(line, a.usernamePrompt) {
		return fmt.Errorf("authentication rejected")
	}
	return nil
}

func (a *TelnetAdapter) Run(ctx context.Context, cmd string) ([]byte, error) {
	if err := a.send(cmd); err != nil {
		return nil, err
	}
	out, err := a.readUntilAny(ctx, []string{a.prompt}, 30*time.Second)
	if err != nil {
		return nil, err
	}
	return stripPrompt(boundOutput([]byte(out)), a.prompt), nil
}

func (a *TelnetAdapter) Close() error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

func (a *TelnetAdapter) send(line string) error {
	_, err := a.conn.Write([]byte(line + "\r\n"))
	return err
}

func (a *TelnetAdapter) expect(ctx context.Context, substr string) error {
	_, err := a.readUntilAny(ctx, []string{substr}, 10*time.Second)
	return err
}

func (a *TelnetAdapter) readUntilAny(ctx context.Context, substrs []string, timeout time.Duration) (string, error) {
	_ = a.conn.SetReadDeadline(time.Now().Add(timeout))
	var buf strings.Builder
	for {
		if buf.Len() > MaxOutputBytes {
			return "", fmt.Errorf("output exceeded limit")
		}
		b, err := a.reader.ReadByte()
		if err != nil {
			return buf.String(), err
		}
		buf.WriteByte(b)
		current := buf.String()
		for _, s := range substrs {
			if strings.Contains(current, s) {
				return current, nil
			}
		}
		select {
		case <-ctx.Done():
			return buf.String(), ctx.Err()
		default:
		}
	}
}
