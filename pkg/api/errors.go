package api

import "fmt"

// TransferError means the deployment script could not reach the remote host.
type TransferError struct {
	LocalPath  string
	RemotePath string
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s -> %s: %v", e.LocalPath, e.RemotePath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// TransportError means the connection failed or dropped while executing.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ClassifiedRuntimeError is the remote script reporting failure through its
// own output.
type ClassifiedRuntimeError struct {
	Lines []string
}

func (e *ClassifiedRuntimeError) Error() string {
	if len(e.Lines) == 1 {
		return "script reported an error: " + e.Lines[0]
	}
	return fmt.Sprintf("script reported %d errors, first: %s", len(e.Lines), e.Lines[0])
}

// RecorderWarning is a bookkeeping failure after a successful deployment.
// It never flips the verdict.
type RecorderWarning struct {
	Step string
	Err  error
}

func (e *RecorderWarning) Error() string {
	return fmt.Sprintf("recorder %s: %v", e.Step, e.Err)
}

func (e *RecorderWarning) Unwrap() error { return e.Err }
