package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"
)

// CLI is an interactive SSH shell transport, grounded on the fleet's
// existing SSH CLI driver: it dials, authenticates with password or a
// keyboard-interactive fallback (some platforms reject password auth
// outright but accept the same password via keyboard-interactive), and
// opens a PTY-backed shell channel.
type CLI struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	chunks chan []byte
	errs   chan error
}

// DialCLI opens an SSH connection to addr (host:port) and starts an
// interactive shell. Connection and authentication are bounded by ctx;
// the PTY request and shell start that follow are not.
func DialCLI(ctx context.Context, addr, username, password string) (*CLI, error) {
	keyboardInteractive := ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	})

	cfg := &ssh.ClientConfig{
		User: username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			keyboardInteractive,
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // fleet devices rarely carry a verifiable host key
	}
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Timeout = time.Until(deadline)
	}

	client, err := dialContext(ctx, addr, cfg)
	if err != nil {
		return nil, classifyDialErr(ctx, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, classifyDialErr(ctx, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty("vt100", 0, 200, modes); err != nil {
		session.Close()
		client.Close()
		return nil, classifyDialErr(ctx, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, classifyDialErr(ctx, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, classifyDialErr(ctx, err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, classifyDialErr(ctx, err)
	}

	c := &CLI{
		client:  client,
		session: session,
		stdin:   stdin,
		chunks:  make(chan []byte, 16),
		errs:    make(chan error, 1),
	}
	go c.pump(stdout)
	return c, nil
}

// pump reads from stdout in the background so Recv can select against
// ctx.Done() instead of blocking on a plain io.Reader.
func (c *CLI) pump(stdout io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.chunks <- chunk
		}
		if err != nil {
			c.errs <- err
			return
		}
	}
}

func (c *CLI) Send(ctx context.Context, data []byte) error {
	done := make(chan error, 1)
	go func() { _, err := c.stdin.Write(data); done <- err }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (c *CLI) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-c.chunks:
		return chunk, nil
	case err := <-c.errs:
		return nil, err
	}
}

func (c *CLI) Close() error {
	c.session.Close()
	return c.client.Close()
}

var _ Transport = (*CLI)(nil)

// dialContext dials addr with cfg, respecting ctx cancellation in
// addition to cfg.Timeout (ssh.Dial itself only understands the latter).
func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, cfg)
		ch <- result{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
	case r := <-ch:
		return r.client, r.err
	}
}
