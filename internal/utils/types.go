package utils

import "time"

type Downloader interface {
	Download(job *FetchJob) error
	BuildJob(job *FetchJob) error
	ValidateJob(job *FetchJob) error
}

type FetchJob struct {
	ID           string
	JobType      string
	Server       string
	Filename     string
	OutputPath   string
	ProgressFunc func(downloaded, total int64)
	Timeout      time.Duration
	Retries      int
	Metadata     map[string]any
}

type DownloadEntry struct {
	OutputPath string `yaml:"op"`
	Filename   string `yaml:"file"`
}
