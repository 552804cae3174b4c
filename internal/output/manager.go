package output

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

type jobOutput struct {
	ID          int
	Label       string
	Status      string
	Message     string
	StreamLines []string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager tracks a set of download jobs and renders their state. On a
// terminal it redraws in place; otherwise it writes one line per finished
// job.
type Manager struct {
	mutex       sync.RWMutex
	out         io.Writer
	live        bool
	jobs        []*jobOutput
	errors      []ErrorReport
	numLines    int
	displayTick time.Duration
	doneCh      chan struct{}
	displayWg   sync.WaitGroup
	started     bool
}

func NewManager() *Manager {
	return newManager(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
}

// NewPlainManager writes one line per finished job to out, without
// redrawing.
func NewPlainManager(out io.Writer) *Manager {
	return newManager(out, false)
}

func newManager(out io.Writer, live bool) *Manager {
	return &Manager{
		out:         out,
		live:        live,
		displayTick: 200 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}
}

func (m *Manager) Register(label string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	m.jobs = append(m.jobs, &jobOutput{
		ID:          len(m.jobs) + 1,
		Label:       label,
		Status:      "pending",
		StartTime:   now,
		LastUpdated: now,
	})
	return len(m.jobs)
}

func (m *Manager) get(id int) *jobOutput {
	if id < 1 || id > len(m.jobs) {
		return nil
	}
	return m.jobs[id-1]
}

func (m *Manager) SetMessage(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info := m.get(id); info != nil {
		info.Message = message
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) Complete(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.get(id)
	if info == nil {
		return
	}
	info.StreamLines = nil
	if message == "" {
		message = fmt.Sprintf("Completed %s", info.Label)
	}
	info.Message = message
	info.Complete = true
	info.Status = "success"
	info.LastUpdated = time.Now()
	if !m.live {
		m.writeJobLine(info)
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.get(id)
	if info == nil {
		return
	}
	info.StreamLines = nil
	info.Complete = true
	info.Status = "error"
	info.Error = err
	info.LastUpdated = time.Now()
	m.errors = append(m.errors, ErrorReport{Label: info.Label, Error: err, Time: info.LastUpdated})
	if !m.live {
		m.writeJobLine(info)
	}
}

// SetProgress replaces the job's stream output with a progress bar.
func (m *Manager) SetProgress(id int, done, total int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info := m.get(id)
	if info == nil {
		return
	}
	elapsed := time.Since(info.StartTime).Seconds()
	text := fmt.Sprintf("%s of %s", FormatBytes(uint64(max(0, done))), FormatBytes(uint64(max(0, total))))
	info.StreamLines = []string{fmt.Sprintf("%s%s %s %s", ProgressBar(done, total, 30), text, StyleSymbols["bullet"], FormatSpeed(done, elapsed))}
	info.LastUpdated = time.Now()
}

// Summary counts finished jobs by outcome.
func (m *Manager) Summary() (succeeded, failed int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, info := range m.jobs {
		switch info.Status {
		case "success":
			succeeded++
		case "error":
			failed++
		}
	}
	return succeeded, failed
}

func (m *Manager) statusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "warning":
		return warningStyle.Render(StyleSymbols["warning"])
	default:
		return pendingStyle.Render(StyleSymbols["pending"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case "success":
		return successStyle.Render(message)
	case "error":
		return errorStyle.Render(message)
	case "warning":
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

// writeJobLine prints a single status line; callers hold the mutex.
func (m *Manager) writeJobLine(info *jobOutput) int {
	elapsed := time.Since(info.StartTime).Round(time.Second)
	if info.Complete {
		elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
	}
	message := info.Message
	if message == "" {
		message = "Waiting..."
	}
	fmt.Fprintf(m.out, "  %s %s %s\n", m.statusIndicator(info.Status), debugStyle.Render(elapsed.String()), styleMessage(info.Status, message))
	lines := 1
	for _, line := range info.StreamLines {
		fmt.Fprintf(m.out, "      %s\n", streamStyle.Render(line))
		lines++
	}
	return lines
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}

	available := terminalHeight() - 3
	var active, completed []*jobOutput
	needed := 0
	for _, info := range m.jobs {
		if info.Complete {
			completed = append(completed, info)
			needed++
		} else {
			active = append(active, info)
			needed += 1 + len(info.StreamLines)
		}
	}
	// drop the oldest finished jobs first when the screen is short
	if needed > available {
		keep := max(0, available-(needed-len(completed)))
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}

	lineCount := 0
	for _, info := range append(active, completed...) {
		if lineCount >= available {
			break
		}
		lineCount += m.writeJobLine(info)
	}
	m.numLines = lineCount
}

func (m *Manager) StartDisplay() {
	m.started = true
	if !m.live {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay renders the final state followed by the summary.
func (m *Manager) StopDisplay() {
	if !m.started {
		return
	}
	m.started = false
	close(m.doneCh)
	m.displayWg.Wait()
	m.ShowSummary()
}

func (m *Manager) ShowSummary() {
	succeeded, failed := m.Summary()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	total := len(m.jobs)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, "  "+success2Style.Render(fmt.Sprintf("Completed %d of %d", succeeded, total)))
	if failed > 0 {
		fmt.Fprintln(m.out, "  "+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failed, total)))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "  "+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.out, "    %s %s %s\n",
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Label))
			fmt.Fprintf(m.out, "      %s\n", errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
		}
	}
	fmt.Fprintln(m.out)
}
