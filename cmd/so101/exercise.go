package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	log "github.com/sirupsen/logrus"

	"github.com/armlab/so101/pkg/exercise"
	"github.com/armlab/so101/pkg/robot"
)

type ExerciseCommand struct {
	Arm         string        `long:"arm" default:"follower" choice:"leader" choice:"follower" description:"Which arm to exercise"`
	Port        string        `long:"port" description:"Serial port override (skips the saved config)"`
	ForwardPct  float64       `long:"forward-pct" default:"5" description:"Forward offset, percent of full encoder range"`
	BackwardPct float64       `long:"backward-pct" default:"10" description:"Backward swing from the forward target, percent"`
	LoadLimit   int           `long:"load-limit" default:"1000" description:"Load reading that emergency-stops a joint"`
	Wait        time.Duration `long:"wait" default:"5s" description:"Settle window per phase"`
	Plain       bool          `long:"plain" description:"Plain console output instead of the live monitor"`
}

// Joints that drift back within this many ticks of their initial position
// count as returned.
const returnTolerance = 10

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Motor colors - distinct colors for each motor
var motorColors = map[robot.MotorName]string{
	robot.ShoulderPan:  "196", // red
	robot.ShoulderLift: "208", // orange
	robot.ElbowFlex:    "226", // yellow
	robot.WristFlex:    "46",  // green
	robot.WristRoll:    "51",  // cyan
	robot.Gripper:      "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (c *ExerciseCommand) Execute(args []string) error {
	port := c.Port
	var calibration robot.Calibration

	if port == "" {
		cfg, err := robot.LoadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, "No configuration found. Run 'so101 setup' first, or pass --port.")
			os.Exit(1)
		}
		settings, err := cfg.Arm(c.Arm)
		if err != nil {
			return err
		}
		if settings.Port == "" {
			fmt.Fprintf(os.Stderr, "No port configured for the %s arm. Run 'so101 setup' first.\n", c.Arm)
			os.Exit(1)
		}
		port = settings.Port
		calibration = settings.Calibration
		fmt.Printf("Loaded %s arm configuration from %s\n", c.Arm, robot.DefaultConfigFile)
	}

	arm, err := robot.NewArm(robot.ArmConfig{
		Port:        port,
		Calibration: calibration,
	})
	if err != nil {
		log.Fatalf("Failed to connect to %s arm: %v", c.Arm, err)
	}
	defer arm.Close()

	runner := exercise.NewRunner(arm, exercise.Config{
		ForwardPercent:  c.ForwardPct,
		BackwardPercent: c.BackwardPct,
		LoadLimit:       c.LoadLimit,
		Wait:            c.Wait,
		Calibration:     arm.Calibration(),
	})

	if c.Plain {
		return runPlain(runner)
	}
	return runMonitor(runner)
}

// launchRun starts the runner in the background. The returned channel is
// closed once the run, including its torque-off cleanup, has finished; the
// result is safe to read after that.
func launchRun(ctx context.Context, runner *exercise.Runner) (<-chan struct{}, *runDone) {
	res := &runDone{}
	done := make(chan struct{})
	go func() {
		res.report, res.err = runner.Run(ctx)
		close(done)
	}()
	return done, res
}

// followLogs emits runner log lines until done closes, then flushes whatever
// is still buffered before returning.
func followLogs(done <-chan struct{}, logs <-chan string, emit func(string)) {
	for {
		select {
		case msg := <-logs:
			emit(msg)
		case <-done:
			for {
				select {
				case msg := <-logs:
					emit(msg)
				default:
					return
				}
			}
		}
	}
}

// runPlain drives the runner with transcript-style console logging.
func runPlain(runner *exercise.Runner) error {
	done, res := launchRun(context.Background(), runner)
	followLogs(done, runner.Logs(), logLine)

	if res.report != nil {
		fmt.Println()
		fmt.Println(renderSummary(res.report))
	}
	if res.err != nil {
		return fmt.Errorf("exercise run: %w", res.err)
	}
	return nil
}

func logLine(msg string) {
	switch {
	case strings.HasPrefix(msg, "WARNING:"):
		log.Warn(strings.TrimSpace(strings.TrimPrefix(msg, "WARNING:")))
	case strings.HasPrefix(msg, "caution:"):
		log.Warn(strings.TrimSpace(strings.TrimPrefix(msg, "caution:")))
	default:
		log.Info(msg)
	}
}

// runMonitor drives the runner under the live TUI.
func runMonitor(runner *exercise.Runner) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done, res := launchRun(ctx, runner)

	p := tea.NewProgram(initialExerciseModel(runner, done), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	// Quitting the monitor mid-run cancels the exercise; wait for the
	// runner's torque-off cleanup before exiting.
	cancel()
	<-done

	// Reprint the summary on the normal screen so it survives the alt screen
	if res.report != nil {
		fmt.Println(renderSummary(res.report))
	}
	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		return fmt.Errorf("exercise run: %w", res.err)
	}
	return nil
}

type runDone struct {
	report *exercise.Report
	err    error
}

type exerciseModel struct {
	runner    *exercise.Runner
	done      <-chan struct{}
	chart     *streamlinechart.Model
	width     int
	height    int
	logs      []string
	positions map[robot.MotorName]int
	loads     map[robot.MotorName]int
	halted    map[robot.MotorName]bool
	phase     exercise.Phase
	finished  bool
	quitting  bool
}

// Messages from the runner
type stateMsg exercise.State
type logMsg string
type doneMsg struct{}

func waitForState(runner *exercise.Runner) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-runner.States())
	}
}

func waitForLog(runner *exercise.Runner) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-runner.Logs())
	}
}

func waitForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

func initialExerciseModel(runner *exercise.Runner, done <-chan struct{}) exerciseModel {
	limit := float64(runner.Config().LoadLimit)
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(0, limit*1.25),
	)

	for _, name := range robot.AllMotors() {
		color := motorColors[name]
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}

	return exerciseModel{
		runner: runner,
		done:   done,
		chart:  &chart,
	}
}

func (m *exerciseModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *exerciseModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 14 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	// joint table sits beside nothing; subtract its eight rows as well
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize - 10
	if height < 8 {
		height = 8
	}
	return width, height
}

func (m *exerciseModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func (m exerciseModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.runner),
		waitForLog(m.runner),
		waitForDone(m.done),
	)
}

func (m exerciseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		state := exercise.State(msg)
		m.phase = state.Phase
		m.positions = state.Positions
		m.halted = state.Halted
		if state.Loads != nil {
			m.loads = state.Loads
			for name, load := range state.Loads {
				m.chart.PushDataSet(string(name), float64(load))
			}
			m.chart.DrawAll()
		}
		return m, waitForState(m.runner)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.runner)

	case doneMsg:
		m.finished = true
		return m, nil
	}

	return m, nil
}

func (m exerciseModel) View() string {
	if m.quitting {
		return "Exercise stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("SO-101 Exercise"))
	if m.finished {
		sb.WriteString(" - done")
	} else {
		sb.WriteString(fmt.Sprintf(" - %s phase", m.phase))
	}
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(m.jointTable())
	sb.WriteString("\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	if m.finished {
		sb.WriteString(statusStyle.Render("Run finished - press 'q' for the summary"))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m exerciseModel) jointTable() string {
	rows := make([][]string, 0, len(robot.AllMotors()))
	for _, name := range robot.AllMotors() {
		pos := "-"
		if p, ok := m.positions[name]; ok {
			pos = fmt.Sprintf("%d", p)
		}
		load := "-"
		if l, ok := m.loads[name]; ok {
			load = fmt.Sprintf("%d", l)
		}
		status := "ok"
		if m.halted[name] {
			status = "halted"
		}
		rows = append(rows, []string{string(name), pos, load, status})
	}

	rowCount := len(rows)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Position", "Load", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
			}
			if col == 3 && row >= 0 && row < rowCount && rows[row][3] == "halted" {
				return warnStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	return t.Render()
}

func renderLegend() string {
	var items []string
	for _, name := range robot.AllMotors() {
		color := motorColors[name]
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
		item := colorStyle.Render("━━") + " " + string(name)
		items = append(items, item)
	}
	return strings.Join(items, "  ")
}

// renderSummary builds the end-of-run table: where each joint started, where
// it ended, and whether it made it back.
func renderSummary(report *exercise.Report) string {
	rows := make([][]string, 0, len(robot.AllMotors()))
	var last exercise.PhaseReport
	if len(report.Phases) > 0 {
		last = report.Phases[len(report.Phases)-1]
	}

	for _, name := range robot.AllMotors() {
		initial, ok := report.Initial[name]
		if !ok {
			continue
		}
		final := "-"
		peak := 0
		halted := false
		if res, ok := last.Result(name); ok {
			final = fmt.Sprintf("%d", res.Final)
		}
		for _, phase := range report.Phases {
			if res, ok := phase.Result(name); ok {
				if res.PeakLoad > peak {
					peak = res.PeakLoad
				}
				halted = halted || res.Halted
			}
		}

		outcome := "returned"
		switch {
		case halted:
			outcome = "overload halt"
		case !report.Returned(name, returnTolerance):
			outcome = "off by >10"
		}

		rows = append(rows, []string{
			string(name),
			fmt.Sprintf("%d", initial),
			final,
			fmt.Sprintf("%d", peak),
			outcome,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Initial", "Final", "Peak load", "Outcome").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
			}
			if col == 4 && row >= 0 && row < len(rows) && rows[row][4] != "returned" {
				return warnStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	return t.Render()
}
