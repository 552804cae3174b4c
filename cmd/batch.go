package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/udpfetch/internal/output"
	"github.com/tanq16/udpfetch/internal/scheduler"
	"github.com/tanq16/udpfetch/internal/utils"
	"gopkg.in/yaml.v3"
)

func newBatchCmd() *cobra.Command {
	var workers int
	var opts clientOptions

	cmd := &cobra.Command{
		Use:   "batch <host:port> <YAML_FILE> [--workers N]",
		Short: "Download every file listed in a YAML file",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := readBatchFile(args[1])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			jobs := buildJobsFromBatch(args[0], entries, opts)
			if len(jobs) == 0 {
				output.PrintError("No valid entries found in the batch file")
				os.Exit(1)
			}
			if err := scheduler.Run(jobs, workers, opts.fileLog); err != nil {
				output.PrintError(fmt.Sprintf("Batch incomplete: %v", err))
				os.Exit(1)
			}
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "Number of files to download in parallel")
	addClientFlags(cmd, &opts)
	return cmd
}

// readBatchFile parses a YAML list of {file, op} entries.
func readBatchFile(path string) ([]utils.DownloadEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading batch file: %v", err)
	}
	var entries []utils.DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing batch file: %v", err)
	}
	return entries, nil
}

func buildJobsFromBatch(server string, entries []utils.DownloadEntry, opts clientOptions) []utils.FetchJob {
	var jobs []utils.FetchJob
	for i, entry := range entries {
		if strings.TrimSpace(entry.Filename) == "" {
			output.PrintWarning(fmt.Sprintf("Entry %d has no file, skipping...", i+1))
			continue
		}
		jobs = append(jobs, newJob(server, entry.Filename, entry.OutputPath, opts))
	}
	return jobs
}
