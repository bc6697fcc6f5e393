package ssh_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/3cpo-dev/kapnode/internal/ssh"
	"github.com/3cpo-dev/kapnode/internal/ssh/sshtest"
	"github.com/3cpo-dev/kapnode/pkg/api"
)

func targetFor(srv *sshtest.Server) api.ConnectionTarget {
	return api.ConnectionTarget{
		Host:           srv.Host(),
		Port:           srv.Port(),
		User:           "root",
		PrivateKeyPath: srv.KeyPath,
	}
}

func drain(s api.LineStream) []string {
	var lines []string
	for s.Next() {
		lines = append(lines, s.Text())
	}
	return lines
}

func TestRemoteTest(t *testing.T) {
	srv := sshtest.NewServer(t, func(cmd string, stdout, _ io.Writer) int {
		if cmd == "echo 'test'" {
			fmt.Fprintln(stdout, "test")
			return 0
		}
		return 127
	})
	r := ssh.NewRemote(filepath.Join(t.TempDir(), "known_hosts"))
	if !r.Test(context.Background(), targetFor(srv)) {
		t.Fatalf("expected connection test to succeed")
	}

	bad := targetFor(srv)
	bad.PrivateKeyPath = filepath.Join(t.TempDir(), "missing")
	if r.Test(context.Background(), bad) {
		t.Fatalf("missing key must fail the connection test")
	}
}

func TestTransfer(t *testing.T) {
	srv := sshtest.NewServer(t, func(string, io.Writer, io.Writer) int { return 0 })
	r := ssh.NewRemote("")
	dir := t.TempDir()
	local := filepath.Join(dir, "deploy-ubuntu-vm.sh")
	if err := os.WriteFile(local, []byte("#!/bin/bash\necho hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	remote := filepath.Join(dir, "remote", "tmp", "deploy-ubuntu-vm.sh")
	if err := r.Transfer(context.Background(), targetFor(srv), local, remote); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	got, err := os.ReadFile(remote)
	if err != nil {
		t.Fatalf("read remote copy: %v", err)
	}
	if string(got) != "#!/bin/bash\necho hi\n" {
		t.Fatalf("unexpected remote content %q", got)
	}
}

func TestTransferFailures(t *testing.T) {
	srv := sshtest.NewServer(t, func(string, io.Writer, io.Writer) int { return 0 })
	r := ssh.NewRemote("")
	dir := t.TempDir()

	err := r.Transfer(context.Background(), targetFor(srv), filepath.Join(dir, "nope.sh"), filepath.Join(dir, "out.sh"))
	var te *api.TransferError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransferError for missing local file, got %v", err)
	}

	local := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(local, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("file"), 0644); err != nil {
		t.Fatal(err)
	}
	err = r.Transfer(context.Background(), targetFor(srv), local, filepath.Join(blocker, "script.sh"))
	if !errors.As(err, &te) {
		t.Fatalf("expected TransferError for unwritable path, got %v", err)
	}
	if te.RemotePath != filepath.Join(blocker, "script.sh") {
		t.Fatalf("remote path not recorded: %+v", te)
	}
}

func TestExecuteStreaming(t *testing.T) {
	srv := sshtest.NewServer(t, func(cmd string, stdout, stderr io.Writer) int {
		fmt.Fprint(stdout, "Creating VM 207\r\nStarting VM\n\nDone\n")
		fmt.Fprint(stderr, "warning: low disk\n")
		return 3
	})
	r := ssh.NewRemote("")
	s := r.ExecuteStreaming(context.Background(), targetFor(srv), "bash /tmp/deploy-ubuntu-vm.sh --yes")
	if got := srv.Commands(); len(got) != 0 {
		t.Fatalf("stream must not connect before Next, saw %v", got)
	}
	lines := drain(s)
	want := []string{"Creating VM 207", "Starting VM", "", "Done", "STDERR: warning: low disk"}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
	if s.Err() != nil {
		t.Fatalf("unexpected error: %v", s.Err())
	}
	if s.ExitCode() != 3 {
		t.Fatalf("exit code = %d, want 3", s.ExitCode())
	}
	if srv.PTYRequests() != 1 {
		t.Fatalf("expected a pty request, got %d", srv.PTYRequests())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close after drain: %v", err)
	}
	if s.Next() {
		t.Fatalf("closed stream yielded a line")
	}
}

func TestExecuteStreamingConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().(*net.TCPAddr)
	_ = l.Close()

	srv := sshtest.NewServer(t, func(string, io.Writer, io.Writer) int { return 0 })
	target := targetFor(srv)
	target.Port = addr.Port

	s := ssh.NewRemote("").ExecuteStreaming(context.Background(), target, "true")
	lines := drain(s)
	if len(lines) != 1 || !strings.HasPrefix(lines[0], ssh.ErrorPrefix) {
		t.Fatalf("expected a single error line, got %q", lines)
	}
	var te *api.TransportError
	if !errors.As(s.Err(), &te) {
		t.Fatalf("expected TransportError, got %v", s.Err())
	}
}

func TestExecuteStreamingCancel(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	srv := sshtest.NewServer(t, func(_ string, stdout, _ io.Writer) int {
		fmt.Fprintln(stdout, "Downloading Ubuntu cloud image")
		<-release
		return 0
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := ssh.NewRemote("").ExecuteStreaming(ctx, targetFor(srv), "bash deploy.sh")
	if !s.Next() || s.Text() != "Downloading Ubuntu cloud image" {
		t.Fatalf("expected first line, got %q", s.Text())
	}
	cancel()
	rest := drain(s)
	if len(rest) != 1 || !strings.HasPrefix(rest[0], ssh.ErrorPrefix) {
		t.Fatalf("expected one error line after cancel, got %q", rest)
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", s.Err())
	}
}

func TestExecuteOneshot(t *testing.T) {
	srv := sshtest.NewServer(t, func(cmd string, stdout, stderr io.Writer) int {
		if cmd == "qm status 207" {
			fmt.Fprintln(stdout, "status: running")
			return 0
		}
		fmt.Fprintln(stderr, "no such vm")
		return 2
	})
	r := ssh.NewRemote("")
	res, err := r.ExecuteOneshot(context.Background(), targetFor(srv), "qm status 207")
	if err != nil {
		t.Fatalf("oneshot: %v", err)
	}
	if diff := cmp.Diff(api.CommandResult{Stdout: "status: running\n", ExitCode: 0}, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	res, err = r.ExecuteOneshot(context.Background(), targetFor(srv), "qm status 999")
	if err != nil {
		t.Fatalf("non-zero exit is not a transport error: %v", err)
	}
	if res.ExitCode != 2 || res.Stderr != "no such vm\n" {
		t.Fatalf("unexpected result %+v", res)
	}
}
