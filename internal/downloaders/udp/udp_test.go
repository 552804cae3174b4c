package udp

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tanq16/udpfetch/internal/config"
	"github.com/tanq16/udpfetch/internal/server"
	"github.com/tanq16/udpfetch/internal/store"
	"github.com/tanq16/udpfetch/internal/utils"
)

func startServer(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.PortMin, cfg.PortMax = 53000, 53499
	l := server.NewListener(cfg, store.LocalStore{Root: dir})
	if err := l.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l.Addr().String()
}

func newJob(serverAddr, filename, outputPath string) *utils.FetchJob {
	return &utils.FetchJob{
		JobType:    utils.JobTypeUDP,
		Server:     serverAddr,
		Filename:   filename,
		OutputPath: outputPath,
		Timeout:    time.Second,
		Retries:    3,
		Metadata:   make(map[string]any),
	}
}

func runJob(t *testing.T, job *utils.FetchJob) error {
	t.Helper()
	d := &UDPDownloader{}
	if err := d.ValidateJob(job); err != nil {
		return err
	}
	if err := d.BuildJob(job); err != nil {
		return err
	}
	return d.Download(job)
}

func TestUDPDownloader_FullDownload(t *testing.T) {
	content := make([]byte, 10*1024+17)
	if _, err := rand.Read(content); err != nil {
		t.Fatal(err)
	}
	addr := startServer(t, "payload.bin", content)
	outDir := t.TempDir()
	job := newJob(addr, "payload.bin", filepath.Join(outDir, "copy.bin"))

	var lastDownloaded, lastTotal int64
	job.ProgressFunc = func(downloaded, total int64) {
		lastDownloaded, lastTotal = downloaded, total
	}
	if err := runJob(t, job); err != nil {
		t.Fatalf("download: %v", err)
	}

	got, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("downloaded file differs from source")
	}
	if lastDownloaded != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Fatalf("final progress %d/%d", lastDownloaded, lastTotal)
	}
	if _, err := os.Stat(filepath.Join(outDir, utils.TempDirName)); !os.IsNotExist(err) {
		t.Fatal("temp directory left behind")
	}
}

func TestUDPDownloader_EmptyFile(t *testing.T) {
	addr := startServer(t, "empty.txt", nil)
	job := newJob(addr, "empty.txt", filepath.Join(t.TempDir(), "empty.txt"))
	if err := runJob(t, job); err != nil {
		t.Fatalf("download: %v", err)
	}
	info, err := os.Stat(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("size %d", info.Size())
	}
}

func TestUDPDownloader_RenamesOnCollision(t *testing.T) {
	addr := startServer(t, "doc.txt", []byte("fresh content"))
	outDir := t.TempDir()
	existing := filepath.Join(outDir, "doc.txt")
	if err := os.WriteFile(existing, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	job := newJob(addr, "doc.txt", existing)
	if err := runJob(t, job); err != nil {
		t.Fatalf("download: %v", err)
	}
	if job.OutputPath != filepath.Join(outDir, "doc-(1).txt") {
		t.Fatalf("output path %s", job.OutputPath)
	}
	if got, _ := os.ReadFile(job.OutputPath); string(got) != "fresh content" {
		t.Fatalf("content %q", got)
	}
	if got, _ := os.ReadFile(existing); string(got) != "old" {
		t.Fatal("existing file was overwritten")
	}
}

func TestUDPDownloader_SkipsIdenticalSize(t *testing.T) {
	addr := startServer(t, "same.txt", []byte("12345"))
	existing := filepath.Join(t.TempDir(), "same.txt")
	if err := os.WriteFile(existing, []byte("abcde"), 0644); err != nil {
		t.Fatal(err)
	}
	err := runJob(t, newJob(addr, "same.txt", existing))
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already-exists error, got %v", err)
	}
}

func TestUDPDownloader_Validation(t *testing.T) {
	d := &UDPDownloader{}
	if err := d.ValidateJob(newJob("127.0.0.1:9000", "  ", "")); err == nil {
		t.Fatal("expected error for blank filename")
	}
	if err := d.ValidateJob(newJob("not an address", "a.txt", "")); err == nil {
		t.Fatal("expected error for bad server address")
	}
	if err := d.Download(newJob("127.0.0.1:9000", "a.txt", "")); err == nil {
		t.Fatal("expected error downloading an unbuilt job")
	}
}

func TestUDPDownloader_NotFound(t *testing.T) {
	addr := startServer(t, "present.txt", []byte("x"))
	err := runJob(t, newJob(addr, "absent.txt", filepath.Join(t.TempDir(), "absent.txt")))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
