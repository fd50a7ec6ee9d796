package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/PatchLens/go-pynt/embed"
)

const restoreLongDescription = `Restore module files left instrumented by an interrupted run.

Without arguments every journal entry is replayed: the original content is
written back, the sibling .pynt.bkp file is removed and the entry dropped.
With MODULE arguments the modules in --dir are restored from their .pynt.bkp
files, for runs made with the journal disabled.`

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	var listOnly bool
	cmd := &cobra.Command{
		Use:   "restore [MODULE...]",
		Short: "Restore modules left instrumented by an interrupted run",
		Long:  restoreLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				if listOnly {
					return errors.New("--list reports journal entries and takes no modules")
				}
				return restoreBackupFiles(cmd, opts, args)
			}
			return replayJournal(cmd, opts, listOnly)
		},
	}
	cmd.Flags().BoolVarP(&listOnly, "list", "l", false, "only report what would be restored")
	return cmd
}

func replayJournal(cmd *cobra.Command, opts *rootOptions, listOnly bool) error {
	if opts.config.JournalDir == "" {
		return errors.New("journal is disabled, name the modules to restore from their backup files")
	}
	journal, closeJournal, err := opts.openJournal()
	if err != nil {
		return err
	}
	defer closeJournal()

	results, err := journal.Recover(cmd.Context(), listOnly)
	if err != nil {
		return err
	} else if len(results) == 0 {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "nothing to restore")
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"File", "Namespace", "Run", "Taken", "Status"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	var errs []error
	for _, r := range results {
		table.Append([]string{r.Record.Path, r.Record.Namespace, r.Record.RunID,
			r.Record.Time.Local().Format("2006-01-02 15:04:05"), recoveryStatus(r, listOnly)})
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Record.Path, r.Err))
		}
	}
	table.Render()
	return errors.Join(errs...)
}

func recoveryStatus(r embed.Recovery, listOnly bool) string {
	switch {
	case r.Err != nil:
		return "FAILED"
	case listOnly && r.Changed:
		return "instrumented"
	case listOnly:
		return "unchanged"
	case r.Changed:
		return "restored"
	default:
		return "cleaned up"
	}
}

func restoreBackupFiles(cmd *cobra.Command, opts *rootOptions, modules []string) error {
	journal, closeJournal, err := opts.openJournal()
	if err != nil {
		return err
	}
	defer closeJournal()

	config := opts.config
	var errs []error
	for _, module := range modules {
		path := module
		if !strings.HasSuffix(path, ".py") {
			path = module + ".py"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(config.AbsDir, path)
		}

		found, err := embed.RestoreBackupFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		} else if journal != nil {
			if err := journal.Remove(path); err != nil {
				errs = append(errs, err)
			}
		}
		status := "restored"
		if !found {
			status = "no backup"
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, status); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}
