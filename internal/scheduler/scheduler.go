package scheduler

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/udpfetch/internal/downloaders/udp"
	"github.com/tanq16/udpfetch/internal/output"
	"github.com/tanq16/udpfetch/internal/utils"
)

// downloaderRegistry maps job types to their downloader implementations
var downloaderRegistry = map[string]utils.Downloader{
	utils.JobTypeUDP: &udp.UDPDownloader{},
}

// Run executes jobs on numWorkers workers and reports an error if any job
// failed. With fileLog set, log records go to utils.LogFile instead of
// stderr so they do not interleave with the live display.
func Run(jobs []utils.FetchJob, numWorkers int, fileLog bool) error {
	if fileLog {
		f, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("error opening log file: %v", err)
		}
		defer f.Close()
		utils.SetLogOutput(f)
		defer utils.SetLogOutput(os.Stderr)
	}
	return run(jobs, numWorkers, output.NewManager())
}

func run(jobs []utils.FetchJob, numWorkers int, outputMgr *output.Manager) error {
	numWorkers = max(1, min(numWorkers, len(jobs)))
	outputMgr.StartDisplay()

	jobCh := make(chan utils.FetchJob, len(jobs))
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.New().String()
		}
		if job.Metadata == nil {
			job.Metadata = make(map[string]any)
		}
		jobCh <- job
	}
	close(jobCh)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processJobs(jobCh, outputMgr)
		}()
	}
	wg.Wait()
	outputMgr.StopDisplay()

	if _, failed := outputMgr.Summary(); failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(jobs))
	}
	return nil
}

func processJobs(jobCh <-chan utils.FetchJob, outputMgr *output.Manager) {
	for job := range jobCh {
		funcID := outputMgr.Register(job.Filename)
		logger := log.With().Str("op", "scheduler/scheduler").Str("job", job.ID[:8]).Logger()

		downloader, exists := downloaderRegistry[job.JobType]
		if !exists {
			outputMgr.ReportError(funcID, fmt.Errorf("unknown job type: %s", job.JobType))
			continue
		}

		outputMgr.SetMessage(funcID, fmt.Sprintf("Validating %s", job.Filename))
		if err := downloader.ValidateJob(&job); err != nil {
			logger.Error().Err(err).Msg("validation failed")
			outputMgr.ReportError(funcID, fmt.Errorf("validation failed: %v", err))
			continue
		}

		outputMgr.SetMessage(funcID, fmt.Sprintf("Negotiating %s with %s", job.Filename, job.Server))
		if err := downloader.BuildJob(&job); err != nil {
			logger.Error().Err(err).Msg("build failed")
			outputMgr.ReportError(funcID, fmt.Errorf("build failed: %v", err))
			continue
		}

		outputMgr.SetMessage(funcID, fmt.Sprintf("Downloading %s", job.OutputPath))
		job.ProgressFunc = func(downloaded, total int64) {
			outputMgr.SetProgress(funcID, downloaded, total)
		}
		if err := downloader.Download(&job); err != nil {
			logger.Error().Err(err).Msg("download failed")
			outputMgr.ReportError(funcID, fmt.Errorf("download failed: %v", err))
			continue
		}
		outputMgr.Complete(funcID, fmt.Sprintf("Completed %s %s %s", job.Filename, output.StyleSymbols["arrow"], job.OutputPath))
	}
}
