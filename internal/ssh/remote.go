package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

// DefaultTimeout bounds the TCP dial and SSH handshake.
const DefaultTimeout = 30 * time.Second

// Remote runs commands and copies files on a target host. Every operation
// opens its own connection and closes it before returning (or, for
// ExecuteStreaming, when the stream is drained or closed).
type Remote struct {
	Timeout time.Duration
	// KnownHostsPath enables trust-on-first-use host key checking. When
	// empty every host key is accepted.
	KnownHostsPath string
}

// NewRemote returns a Remote with the default timeout.
func NewRemote(knownHostsPath string) *Remote {
	return &Remote{Timeout: DefaultTimeout, KnownHostsPath: knownHostsPath}
}

func (r *Remote) connect(ctx context.Context, target api.ConnectionTarget) (*xssh.Client, error) {
	signer, err := LoadPrivateKeySigner(target.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load SSH key: %w", err)
	}
	var hostKeys xssh.HostKeyCallback
	if r.KnownHostsPath != "" {
		hostKeys, err = TrustOnFirstUse(r.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return Dial(ctx, &Client{
		Addr:       target.Addr(),
		User:       target.User,
		Signer:     signer,
		KnownHosts: hostKeys,
		Timeout:    timeout,
	})
}

// Test opens a short-lived connection, runs a no-op echo and checks its
// output. All failures are reported as false.
func (r *Remote) Test(ctx context.Context, target api.ConnectionTarget) bool {
	res, err := r.ExecuteOneshot(ctx, target, "echo 'test'")
	if err != nil {
		log.Debug().Err(err).Str("host", target.Addr()).Msg("Connection test failed")
		return false
	}
	return strings.TrimSpace(res.Stdout) == "test"
}

// Transfer copies one local file to remotePath on the target.
func (r *Remote) Transfer(ctx context.Context, target api.ConnectionTarget, localPath, remotePath string) error {
	fail := func(err error) error {
		return &api.TransferError{LocalPath: localPath, RemotePath: remotePath, Err: err}
	}
	if _, err := os.Stat(localPath); err != nil {
		return fail(fmt.Errorf("stat local: %w", err))
	}
	cli, err := r.connect(ctx, target)
	if err != nil {
		return fail(err)
	}
	defer cli.Close()
	stop := context.AfterFunc(ctx, func() { _ = cli.Close() })
	defer stop()

	start := time.Now()
	if err := PushFile(ctx, cli, localPath, remotePath); err != nil {
		return fail(err)
	}
	log.Debug().
		Str("host", target.Addr()).
		Str("remote_path", remotePath).
		Dur("took", time.Since(start)).
		Msg("File transferred")
	return nil
}

// ExecuteOneshot runs a command and waits for it. A non-zero exit status is
// reported through CommandResult.ExitCode, not as an error; the error is
// always an *api.TransportError.
func (r *Remote) ExecuteOneshot(ctx context.Context, target api.ConnectionTarget, command string) (api.CommandResult, error) {
	res := api.CommandResult{ExitCode: -1}
	cli, err := r.connect(ctx, target)
	if err != nil {
		return res, &api.TransportError{Op: "connect", Err: err}
	}
	defer cli.Close()
	stop := context.AfterFunc(ctx, func() { _ = cli.Close() })
	defer stop()

	session, err := cli.NewSession()
	if err != nil {
		return res, &api.TransportError{Op: "new session", Err: err}
	}
	defer session.Close()
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(command)
	res.Stdout, res.Stderr = stdout.String(), stderr.String()
	code, err := exitStatus(err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return res, &api.TransportError{Op: "run command", Err: err}
	}
	res.ExitCode = code
	return res, nil
}

// ExecuteStreaming starts command under a pseudo-terminal and returns its
// output as a lazy line stream. The connection is opened on the first call
// to Next and closed once the stream is drained or closed. Transport
// failures end the stream with a single synthetic "ERROR: " line.
func (r *Remote) ExecuteStreaming(ctx context.Context, target api.ConnectionTarget, command string) api.LineStream {
	return &lineStream{
		ctx:     ctx,
		remote:  r,
		target:  target,
		command: command,
		exit:    -1,
	}
}

// exitStatus maps a session error to an exit code. Only transport failures
// are returned as errors.
func exitStatus(err error) (int, error) {
	var exitErr *xssh.ExitError
	var missing *xssh.ExitMissingError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitStatus(), nil
	case errors.As(err, &missing):
		return -1, nil
	default:
		return -1, err
	}
}
