package device

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHAdapter implements Adapter over an interactive SSH session, lifting
// the client-dial and auth-method construction from the teacher's
// transport.SSHTunnelTransport (built for HTTP-over-SSH tunneling) and
// replacing the HTTP round-tripper with a CLI command/response loop, since
// network devices speak a shell, not HTTP.
type SSHAdapter struct {
	knownHostsCallback ssh.HostKeyCallback // nil means InsecureIgnoreHostKey, set by caller for production use

	rawConn net.Conn
	client  *ssh.Client
	session *ssh.Session
	target  Target
	prompt  string // device CLI prompt suffix to strip from output, e.g. "#"
}

// NewSSHAdapter creates an SSHAdapter. hostKeyCallback may be nil only in
// non-production test contexts; operators are expected to supply a
// knownhosts.New(...) callback for real deployments.
func NewSSHAdapter(hostKeyCallback ssh.HostKeyCallback, prompt string) *SSHAdapter {
	return &SSHAdapter{knownHostsCallback: hostKeyCallback, prompt: prompt}
}

func (a *SSHAdapter) Open(ctx context.Context, target Target) error {
	a.target = target
	callback := a.knownHostsCallback
	if callback == nil {
		callback = ssh.InsecureIgnoreHostKey()
	}

	addr := fmt.Sprintf("%s:%d", target.Host, target.Port)
	deadline, ok := ctx.Deadline()
	timeout := 10 * time.Second
	if ok {
		timeout = time.Until(deadline)
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	a.rawConn = conn
	return nil
}

func (a *SSHAdapter) Authenticate(ctx context.Context, creds Credentials) error {
	var authMethods []ssh.AuthMethod
	if len(creds.KeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(creds.KeyPEM)
		if err != nil {
			return err
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		authMethods = append(authMethods, ssh.Password(creds.Password))
	}

	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            authMethods,
		HostKeyCallback: a.callback(),
		Timeout:         10 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", a.target.Host, a.target.Port)
	sshConn, chans, reqs, err := ssh.NewClientConn(a.rawConn, addr, cfg)
	if err != nil {
		_ = a.rawConn.Close()
		return err
	}
	a.client = ssh.NewClient(sshConn, chans, reqs)

	session, err := a.client.NewSession()
	if err != nil {
		_ = a.client.Close()
		return err
	}
	a.session = session
	return nil
}

func (a *SSHAdapter) callback() ssh.HostKeyCallback {
	if a.knownHostsCallback != nil {
		return a.knownHostsCallback
	}
	return ssh.InsecureIgnoreHostKey()
}

func (a *SSHAdapter) Run(ctx context.Context, cmd string) ([]byte, error) {
	if a.session == nil {
		return nil, fmt.Errorf("ssh session not open")
	}
	// a fresh session is required per command on most network-device SSH
	// servers, which do not support multiple exec channels per session.
	session, err := a.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return stripPrompt(boundOutput(r.out), a.prompt), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	}
}

func (a *SSHAdapter) Close() error {
	var err error
	if a.session != nil {
		err = a.session.Close()
		a.session = nil
	}
	if a.client != nil {
		if cerr := a.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.client = nil
	} else if a.rawConn != nil {
		// Authenticate may already have closed it on a handshake failure.
		_ = a.rawConn.Close()
	}
	a.rawConn = nil
	return err
}

func boundOutput(b []byte) []byte {
	if len(b) > MaxOutputBytes {
		return b[:MaxOutputBytes]
	}
	return b
}

func stripPrompt(out []byte, prompt string) []byte {
	if prompt == "" {
		return out
	}
	trimmed := bytes.TrimRight(out, "\r\n \t")
	if bytes.HasSuffix(trimmed, []byte(prompt)) {
		return bytes.TrimSuffix(trimmed, []byte(prompt))
	}
	return out
}
