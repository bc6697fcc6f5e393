package api

// Kind is the severity class of one output line.
type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
	KindSuccess Kind = "success"
)

// Stage is a known deployment phase. The zero value means no stage.
type Stage string

const (
	StageNone             Stage = ""
	StageDownloadingImage Stage = "Downloading Image"
	StageCreatingVM       Stage = "Creating VM"
	StageConfiguringInit  Stage = "Configuring Cloud-Init"
	StageStartingVM       Stage = "Starting VM"
	StageWaitingForBoot   Stage = "Waiting for Boot"
	StageInstallingK3s    Stage = "Installing K3s"
	StageConfiguringMesh  Stage = "Configuring Tailscale"
	StageJoiningCluster   Stage = "Joining Cluster"
)

// OutputEvent is the classification of a single raw output line.
type OutputEvent struct {
	Kind     Kind   `json:"kind"`
	Stage    Stage  `json:"stage,omitempty"`
	Progress *int   `json:"progress,omitempty"`
	RawText  string `json:"raw_text"`
}

// HasProgress reports whether the line carried a percentage.
func (e OutputEvent) HasProgress() bool { return e.Progress != nil }

// LineStream is a finite, single-use sequence of raw output lines in arrival
// order. Next must be called before each Text. Close may be called at any
// point to abandon the stream and is safe to call more than once.
type LineStream interface {
	Next() bool
	Text() string
	// Err returns the transport failure that ended the stream early, if any.
	Err() error
	// ExitCode is the remote exit status once drained, -1 when unknown.
	ExitCode() int
	Close() error
}

// Prefixes of synthetic lines a LineStream may produce.
const (
	// StderrLinePrefix marks a line read from the remote error channel.
	StderrLinePrefix = "STDERR: "
	// ErrorLinePrefix marks the single line emitted when the transport fails.
	ErrorLinePrefix = "ERROR: "
)
