package udp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/udpfetch/internal/client"
	"github.com/tanq16/udpfetch/internal/utils"
)

func (d *UDPDownloader) Download(job *utils.FetchJob) error {
	c, ok := job.Metadata["client"].(*client.Client)
	if !ok {
		return errors.New("job has no negotiated session")
	}
	fileSize, _ := job.Metadata["fileSize"].(int64)
	ctx := context.Background()

	progressCh := make(chan int64, 100)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		var totalDownloaded int64
		for bytes := range progressCh {
			totalDownloaded += bytes
			if job.ProgressFunc != nil {
				job.ProgressFunc(totalDownloaded, fileSize)
			}
		}
	}()

	err := performFetch(ctx, c, job.OutputPath, fileSize, progressCh)
	close(progressCh)
	<-progressDone

	if closeErr := c.Close(ctx); closeErr != nil {
		log.Warn().Str("op", "udp/download").Err(closeErr).Msgf("session for %s not closed cleanly", job.Filename)
	}
	if err != nil {
		return err
	}
	log.Info().Str("op", "udp/download").Msgf("download successful for %s", job.OutputPath)
	return nil
}

// performFetch pulls [0, fileSize) chunk by chunk into a temp part file and
// moves it into place once complete.
func performFetch(ctx context.Context, c *client.Client, outputPath string, fileSize int64, progressCh chan<- int64) error {
	tempPath := utils.TempPartPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(tempPath), 0755); err != nil {
		return fmt.Errorf("error creating temp directory: %v", err)
	}
	outFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	defer outFile.Close()

	for offset := int64(0); offset < fileSize; {
		chunk, err := c.FetchRange(ctx, offset, fileSize-1)
		if err != nil {
			return err
		}
		if _, err := outFile.Write(chunk.Payload); err != nil {
			return fmt.Errorf("error writing to output file: %v", err)
		}
		progressCh <- int64(len(chunk.Payload))
		offset = chunk.End + 1
	}
	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("error syncing output file: %v", err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("error closing output file: %v", err)
	}
	if err := os.Rename(tempPath, outputPath); err != nil {
		return fmt.Errorf("error renaming (finalizing) output file: %v", err)
	}
	return utils.CleanFunction(outputPath)
}
