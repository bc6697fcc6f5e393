package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

// Remote is the part of the remote session the orchestrator drives.
type Remote interface {
	Transfer(ctx context.Context, target api.ConnectionTarget, localPath, remotePath string) error
	ExecuteStreaming(ctx context.Context, target api.ConnectionTarget, command string) api.LineStream
}

// Recorder persists a successful deployment.
type Recorder interface {
	RegisterNode(node api.InventoryNode) error
	AppendHistory(entry api.HistoryEntry) error
	NextIdentifier() (int, error)
	AdvanceIdentifier() (int, error)
}

// Observer receives run progress as a side channel. Calls for one run are
// made from the goroutine executing Run, in order.
type Observer interface {
	StateChanged(runID string, from, to api.RunState)
	EventClassified(runID string, ev api.OutputEvent)
	RunFinished(outcome *api.DeploymentOutcome)
}

const (
	eventCopy     = "copy"
	eventBuild    = "build"
	eventExecute  = "execute"
	eventComplete = "complete"
	eventAbort    = "abort"
)

// Orchestrator runs one deployment at a time: copy the script, build the
// command, stream and classify its output, then settle on a verdict.
type Orchestrator struct {
	remote     Remote
	recorder   Recorder
	localPath  string
	remotePath string
	observers  []Observer
	now        func() time.Time
	newID      func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver adds an observer notified for every run.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// WithRemoteScriptPath overrides where the script is copied on the host.
func WithRemoteScriptPath(p string) Option {
	return func(o *Orchestrator) { o.remotePath = p }
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator returns an orchestrator that copies localScript to the
// host before every run. recorder may be nil, in which case successful
// runs are not recorded.
func NewOrchestrator(remote Remote, recorder Recorder, localScript string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote:     remote,
		recorder:   recorder,
		localPath:  localScript,
		remotePath: RemoteScriptPath,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one deployment attempt. It always returns an outcome; transfer
// and transport failures are folded into it as error events.
func (o *Orchestrator) Run(ctx context.Context, params api.DeploymentParameters, target api.ConnectionTarget) *api.DeploymentOutcome {
	out := &api.DeploymentOutcome{
		RunID:     o.newID(),
		Hostname:  params.Hostname,
		VMID:      params.VMID,
		NodeType:  params.NodeType,
		State:     api.StateIdle,
		ExitCode:  -1,
		StartedAt: o.now(),
	}
	logger := log.With().Str("run_id", out.RunID).Str("hostname", params.Hostname).Int("vmid", params.VMID).Logger()
	logger.Info().Str("host", target.Addr()).Msg("Starting deployment")

	// Transitions must still happen after ctx is cancelled so the run settles.
	machine := o.newMachine(out.RunID)
	fire := func(event string) {
		if err := machine.Event(context.WithoutCancel(ctx), event); err != nil {
			logger.Error().Err(err).Str("event", event).Msg("Invalid state transition")
		}
		out.State = api.RunState(machine.Current())
	}

	fire(eventCopy)
	if err := o.remote.Transfer(ctx, target, o.localPath, o.remotePath); err != nil {
		logger.Error().Err(err).Msg("Script copy failed")
		o.emit(out, api.OutputEvent{Kind: api.KindError, RawText: api.ErrorLinePrefix + err.Error()})
		out.Err = err
		out.FinalMessage = "Failed to copy deployment script: " + err.Error()
		fire(eventAbort)
		return o.finish(out)
	}
	logger.Info().Str("remote_path", o.remotePath).Msg("Script copied")

	fire(eventBuild)
	command := BuildCommand(o.remotePath, params)
	out.Command = RedactedCommand(o.remotePath, params)
	logger.Debug().Str("command", out.Command).Msg("Command built")

	fire(eventExecute)
	streamErr := o.execute(ctx, out, target, command)
	fire(eventComplete)

	o.settle(out, streamErr)
	if out.Succeeded {
		logger.Info().Str("final_message", out.FinalMessage).Msg("Deployment succeeded")
		o.record(out, params)
	} else {
		logger.Error().Str("final_message", out.FinalMessage).Msg("Deployment failed")
	}
	return o.finish(out)
}

func (o *Orchestrator) newMachine(runID string) *fsm.FSM {
	return fsm.NewFSM(
		string(api.StateIdle),
		fsm.Events{
			{Name: eventCopy, Src: []string{string(api.StateIdle)}, Dst: string(api.StateCopyingScript)},
			{Name: eventBuild, Src: []string{string(api.StateCopyingScript)}, Dst: string(api.StateBuildingCommand)},
			{Name: eventExecute, Src: []string{string(api.StateBuildingCommand)}, Dst: string(api.StateExecuting)},
			{Name: eventComplete, Src: []string{string(api.StateExecuting)}, Dst: string(api.StateCompleted)},
			{Name: eventAbort, Src: []string{string(api.StateCopyingScript)}, Dst: string(api.StateAborted)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug().Str("run_id", runID).Str("event", e.Event).Str("src", e.Src).Str("dst", e.Dst).Msg("State transition")
				for _, obs := range o.observers {
					obs.StateChanged(runID, api.RunState(e.Src), api.RunState(e.Dst))
				}
			},
		},
	)
}

// execute drains the stream, classifying one line at a time. The returned
// error is the transport failure that ended the stream, if any.
func (o *Orchestrator) execute(ctx context.Context, out *api.DeploymentOutcome, target api.ConnectionTarget, command string) error {
	stream := o.remote.ExecuteStreaming(ctx, target, command)
	defer stream.Close()

	interrupted := false
	for stream.Next() {
		o.emit(out, Classify(stream.Text()))
		if ctx.Err() != nil {
			interrupted = true
			break
		}
	}
	out.ExitCode = stream.ExitCode()

	// A failed stream has already yielded its own ERROR line.
	if err := stream.Err(); err != nil {
		return err
	}
	if interrupted {
		err := &api.TransportError{Op: "stream interrupted", Err: ctx.Err()}
		o.emit(out, api.OutputEvent{Kind: api.KindError, RawText: api.ErrorLinePrefix + err.Error()})
		return err
	}
	return nil
}

// settle computes the verdict over the whole event sequence.
func (o *Orchestrator) settle(out *api.DeploymentOutcome, streamErr error) {
	var errLines []string
	for _, ev := range out.Events {
		if ev.Kind == api.KindError {
			errLines = append(errLines, ev.RawText)
		}
	}
	switch {
	case len(errLines) > 0:
		out.Succeeded = false
		out.FinalMessage = strings.Join(errLines, "\n")
		out.Err = streamErr
		if out.Err == nil {
			out.Err = &api.ClassifiedRuntimeError{Lines: errLines}
		}
	case len(out.Events) > 0 && isSuccessBanner(out.Events[len(out.Events)-1].RawText):
		out.Succeeded = true
		out.FinalMessage = out.Events[len(out.Events)-1].RawText
	default:
		out.Succeeded = true
		out.FinalMessage = "Deployment completed"
	}
}

func isSuccessBanner(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "success") || strings.Contains(lower, "complete")
}

// record runs each bookkeeping step exactly once. Failures become warnings
// and never change the verdict.
func (o *Orchestrator) record(out *api.DeploymentOutcome, params api.DeploymentParameters) {
	if o.recorder == nil {
		return
	}
	deployedAt := o.now()
	warn := func(step string, err error) {
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("run_id", out.RunID).Str("step", step).Msg("Failed to record deployment")
		out.Warnings = append(out.Warnings, &api.RecorderWarning{Step: step, Err: err})
	}
	warn("register node", o.recorder.RegisterNode(api.InventoryNode{
		Hostname:   params.Hostname,
		IP:         params.IP,
		VMID:       params.VMID,
		Location:   params.Location,
		NodeType:   params.NodeType,
		DeployedAt: deployedAt,
		Resources:  params.Resources(),
	}))
	warn("append history", o.recorder.AppendHistory(api.HistoryEntry{
		Hostname:   params.Hostname,
		VMID:       params.VMID,
		Location:   params.Location,
		IP:         params.IP,
		NodeType:   params.NodeType,
		DeployedAt: deployedAt,
	}))
	_, err := o.recorder.AdvanceIdentifier()
	warn("advance vmid", err)
}

func (o *Orchestrator) emit(out *api.DeploymentOutcome, ev api.OutputEvent) {
	out.Events = append(out.Events, ev)
	for _, obs := range o.observers {
		obs.EventClassified(out.RunID, ev)
	}
}

func (o *Orchestrator) finish(out *api.DeploymentOutcome) *api.DeploymentOutcome {
	out.FinishedAt = o.now()
	for _, obs := range o.observers {
		obs.RunFinished(out)
	}
	return out
}
