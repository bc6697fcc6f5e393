package core

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/3cpo-dev/kapnode/pkg/api"
)

var (
	errorMarkers   = []string{"error", "failed"}
	warningMarkers = []string{"warn"}
	successMarkers = []string{"success", "✓", "complete"}
)

type stagePattern struct {
	re    *regexp.Regexp
	stage api.Stage
}

// Checked in order; the first match wins.
var stagePatterns = []stagePattern{
	{regexp.MustCompile(`(?i)downloading.*image`), api.StageDownloadingImage},
	{regexp.MustCompile(`(?i)creating vm`), api.StageCreatingVM},
	{regexp.MustCompile(`(?i)configuring.*cloud-init`), api.StageConfiguringInit},
	{regexp.MustCompile(`(?i)starting vm`), api.StageStartingVM},
	{regexp.MustCompile(`(?i)waiting for.*boot`), api.StageWaitingForBoot},
	{regexp.MustCompile(`(?i)installing.*k3s`), api.StageInstallingK3s},
	{regexp.MustCompile(`(?i)configuring.*tailscale`), api.StageConfiguringMesh},
	{regexp.MustCompile(`(?i)joining.*cluster`), api.StageJoiningCluster},
}

var progressPattern = regexp.MustCompile(`(\d+)(?:\.\d+)?%`)

// Classify maps one output line to an event. Kind, stage and progress are
// detected independently, and the result never depends on earlier lines.
func Classify(line string) api.OutputEvent {
	ev := api.OutputEvent{Kind: classifyKind(line), RawText: line}
	for _, sp := range stagePatterns {
		if sp.re.MatchString(line) {
			ev.Stage = sp.stage
			break
		}
	}
	if m := progressPattern.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			n = min(max(n, 0), 100)
			ev.Progress = &n
		} else {
			full := 100
			ev.Progress = &full
		}
	}
	return ev
}

func classifyKind(line string) api.Kind {
	lower := strings.ToLower(line)
	switch {
	case containsAny(lower, errorMarkers):
		return api.KindError
	case containsAny(lower, warningMarkers):
		return api.KindWarning
	case containsAny(lower, successMarkers):
		return api.KindSuccess
	default:
		return api.KindInfo
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
