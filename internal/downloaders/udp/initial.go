package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/udpfetch/internal/client"
	"github.com/tanq16/udpfetch/internal/utils"
)

type UDPDownloader struct{}

func (d *UDPDownloader) ValidateJob(job *utils.FetchJob) error {
	if strings.TrimSpace(job.Filename) == "" {
		return errors.New("no filename provided")
	}
	if _, err := net.ResolveUDPAddr("udp", job.Server); err != nil {
		return fmt.Errorf("invalid server address %q: %v", job.Server, err)
	}
	log.Debug().Str("op", "udp/initial").Msgf("job validated for %s from %s", job.Filename, job.Server)
	return nil
}

// BuildJob negotiates the session up front so the output path can be
// settled against the advertised size. The open client travels to Download
// in the job metadata.
func (d *UDPDownloader) BuildJob(job *utils.FetchJob) error {
	c, err := client.Dial(job.Server, client.Options{Timeout: job.Timeout, Retries: job.Retries})
	if err != nil {
		return err
	}
	size, err := c.Negotiate(context.Background(), job.Filename)
	if err != nil {
		c.Close(context.Background())
		return err
	}

	if job.OutputPath == "" {
		job.OutputPath = utils.DefaultOutputPath(job.Filename)
	}
	if existingFile, err := os.Stat(job.OutputPath); err == nil {
		if existingFile.Size() == size {
			if closeErr := c.Close(context.Background()); closeErr != nil {
				log.Warn().Str("op", "udp/initial").Err(closeErr).Msg("session close failed")
			}
			return fmt.Errorf("file already exists with same size")
		}
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}

	job.Metadata["client"] = c
	job.Metadata["fileSize"] = size
	log.Info().Str("op", "udp/initial").Msgf("job built for %s (%d bytes, session port %d)", job.Filename, size, c.SessionPort())
	return nil
}
