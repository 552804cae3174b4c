package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/udpfetch/internal/client"
	"github.com/tanq16/udpfetch/internal/output"
	"github.com/tanq16/udpfetch/internal/scheduler"
	"github.com/tanq16/udpfetch/internal/utils"
)

type clientOptions struct {
	timeout time.Duration
	retries int
	fileLog bool
}

func addClientFlags(cmd *cobra.Command, opts *clientOptions) {
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", client.DefaultTimeout, "Wait per request before retrying")
	cmd.Flags().IntVarP(&opts.retries, "retries", "r", client.DefaultRetries, "Retries per request after the first attempt")
	cmd.Flags().BoolVar(&opts.fileLog, "file-log", false, "Write logs to "+utils.LogFile+" instead of stderr")
}

func newGetCmd() *cobra.Command {
	var outputPath string
	var opts clientOptions

	cmd := &cobra.Command{
		Use:   "get <host:port> <filename> [--output OUTPUT_PATH]",
		Short: "Download one file from a udpfetch server",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			job := newJob(args[0], args[1], outputPath, opts)
			if err := scheduler.Run([]utils.FetchJob{job}, 1, opts.fileLog); err != nil {
				output.PrintError(fmt.Sprintf("Download failed: %v", err))
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (defaults to the requested name)")
	addClientFlags(cmd, &opts)
	return cmd
}

func newJob(server, filename, outputPath string, opts clientOptions) utils.FetchJob {
	return utils.FetchJob{
		JobType:    utils.JobTypeUDP,
		Server:     server,
		Filename:   filename,
		OutputPath: outputPath,
		Timeout:    opts.timeout,
		Retries:    opts.retries,
		Metadata:   make(map[string]any),
	}
}
