package worker_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/worker"
)

func TestCommandsForReachabilityIsEmpty(t *testing.T) {
	cmds, err := worker.DefaultCommands{}.CommandsFor(&catalog.Job{Kind: catalog.JobReachability})
	require.NoError(t, err)
	require.Empty(t, cmds)
}

func TestCommandsForBackupDefaultsWhenParamsOmitted(t *testing.T) {
	cmds, err := worker.DefaultCommands{}.CommandsFor(&catalog.Job{Kind: catalog.JobBackup})
	require.NoError(t, err)
	require.Equal(t, worker.DefaultBackupCommands, cmds)
}

func TestCommandsForBackupHonorsExplicitCommands(t *testing.T) {
	params, _ := json.Marshal(worker.BackupParams{Commands: []string{"show run", "show version"}})
	cmds, err := worker.DefaultCommands{}.CommandsFor(&catalog.Job{Kind: catalog.JobBackup, Params: params})
	require.NoError(t, err)
	require.Equal(t, []string{"show run", "show version"}, cmds)
}

func TestCommandsForCommandRequiresNonEmptyCommand(t *testing.T) {
	params, _ := json.Marshal(worker.CommandParams{Command: ""})
	_, err := worker.DefaultCommands{}.CommandsFor(&catalog.Job{Kind: catalog.JobCommand, Params: params})
	require.Error(t, err)
}

func TestCommandsForCustomRequiresCommands(t *testing.T) {
	params, _ := json.Marshal(worker.CustomParams{Commands: nil})
	_, err := worker.DefaultCommands{}.CommandsFor(&catalog.Job{Kind: catalog.JobCustom, Params: params})
	require.Error(t, err)
}

func TestCommandsForUnknownKindErrors(t *testing.T) {
	_, err := worker.DefaultCommands{}.CommandsFor(&catalog.Job{Kind: "bogus"})
	require.Error(t, err)
}
