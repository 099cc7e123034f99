package worker

import (
	"encoding/json"
	"fmt"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/errs"
)

// BackupParams is the Params payload for a JobBackup (spec §4.4: "command
// sequence" that captures the running configuration).
type BackupParams struct {
	Commands []string `json:"commands,omitempty"`
}

// CommandParams is the Params payload for a JobCommand: a single ad-hoc
// command to run against every resolved device.
type CommandParams struct {
	Command string `json:"command"`
}

// CustomParams is the Params payload for a JobCustom: an arbitrary ordered
// command sequence, for kinds the built-ins don't cover.
type CustomParams struct {
	Commands []string `json:"commands"`
}

// DefaultBackupCommands is used when a JobBackup's Params omits an
// explicit command list: the single command every supported transport
// treats as "capture the running configuration".
var DefaultBackupCommands = []string{"show running-config"}

// DefaultCommands maps catalog.JobKind to the command sequence a device
// session runs (spec §3 Job.kind, §4.4 step 3, §4.5 "reachability: open
// session, do nothing, close").
type DefaultCommands struct{}

// CommandsFor implements worker.CommandSource.
func (DefaultCommands) CommandsFor(job *catalog.Job) ([]string, error) {
	switch job.Kind {
	case catalog.JobReachability:
		return nil, nil

	case catalog.JobBackup:
		var params BackupParams
		if len(job.Params) > 0 {
			if err := json.Unmarshal(job.Params, &params); err != nil {
				return nil, errs.Wrap(errs.Validation, err, "invalid backup job params")
			}
		}
		if len(params.Commands) == 0 {
			return DefaultBackupCommands, nil
		}
		return params.Commands, nil

	case catalog.JobCommand:
		var params CommandParams
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return nil, errs.Wrap(errs.Validation, err, "invalid command job params")
		}
		if params.Command == "" {
			return nil, errs.New(errs.Validation, "command job requires a non-empty command")
		}
		return []string{params.Command}, nil

	case catalog.JobCustom:
		var params CustomParams
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return nil, errs.Wrap(errs.Validation, err, "invalid custom job params")
		}
		if len(params.Commands) == 0 {
			return nil, errs.New(errs.Validation, "custom job requires a non-empty command list")
		}
		return params.Commands, nil

	default:
		return nil, fmt.Errorf("unknown job kind: %s", job.Kind)
	}
}
