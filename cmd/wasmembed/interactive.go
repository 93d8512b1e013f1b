package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/middleware"
	"github.com/wippyai/wasm-embed/runtime"
	"github.com/wippyai/wasm-embed/value"
)

func newInspectCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file.wasm>",
		Short: "Browse and call the exported functions of a module",
		Long: `Open an interactive view of a module's exported functions. Each call
runs against the same instance, so memory and globals persist between calls.
Without a terminal the exports are listed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return newExportsCmd().RunE(cmd, args)
			}
			conf, err := config.Consolidate(gf.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(newInspector(conf, args[0]), tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().AddFlagSet(config.FlagSet())
	return cmd
}

// theme holds the few styles the inspector draws with.
type theme struct {
	header lipgloss.Style
	name   lipgloss.Style
	kind   lipgloss.Style
	fail   lipgloss.Style
	hint   lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("24")).Padding(0, 1),
		name:   lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		kind:   lipgloss.NewStyle().Foreground(lipgloss.Color("110")),
		fail:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		hint:   lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
	}
}

type screen int

const (
	screenList screen = iota
	screenArgs
	screenResult
)

// inspector is the bubbletea model behind the inspect command. It owns one
// runtime and one instance for its whole lifetime.
type inspector struct {
	theme theme
	conf  config.Config
	path  string

	rt    *runtime.Runtime
	inst  *runtime.Instance
	funcs []exportInfo

	screen screen
	cursor int
	fields []textinput.Model
	focus  int
	calls  int

	output  string
	callErr error
	loadErr error
}

func newInspector(conf config.Config, path string) *inspector {
	return &inspector{theme: defaultTheme(), conf: conf, path: path}
}

type sessionReady struct {
	rt    *runtime.Runtime
	inst  *runtime.Instance
	funcs []exportInfo
	err   error
}

type callDone struct {
	output string
	err    error
}

func (m *inspector) Init() tea.Cmd {
	return m.open
}

// open reads the module, keeps its callable exports and instantiates it
// with the configured instrumentation.
func (m *inspector) open() tea.Msg {
	ctx := context.Background()

	bin, mod, err := loadModule(m.path)
	if err != nil {
		return sessionReady{err: err}
	}
	var funcs []exportInfo
	for _, e := range describeExports(mod) {
		if e.kind == linker.KindFunction && !e.unsupported {
			funcs = append(funcs, e)
		}
	}
	if len(funcs) == 0 {
		return sessionReady{err: fmt.Errorf("%s exports no callable functions", m.path)}
	}

	engCfg, err := m.conf.Engine()
	if err != nil {
		return sessionReady{err: err}
	}
	mw, err := m.conf.Middleware()
	if err != nil {
		return sessionReady{err: err}
	}
	rt, err := runtime.NewWithConfig(ctx, engCfg)
	if err != nil {
		return sessionReady{err: err}
	}
	inst, err := instantiate(ctx, rt, bin, mw)
	if err != nil {
		rt.Close(ctx)
		return sessionReady{err: err}
	}
	return sessionReady{rt: rt, inst: inst, funcs: funcs}
}

func instantiate(ctx context.Context, rt *runtime.Runtime, bin []byte, mw middleware.Config) (*runtime.Instance, error) {
	if !mw.Empty() {
		return rt.InstantiateWithOptions(ctx, bin, nil, mw)
	}
	return rt.Instantiate(ctx, bin, nil)
}

func (m *inspector) shutdown() {
	ctx := context.Background()
	if m.inst != nil {
		m.inst.Close(ctx)
	}
	if m.rt != nil {
		m.rt.Close(ctx)
	}
}

func (m *inspector) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case sessionReady:
		m.loadErr = msg.err
		m.rt, m.inst, m.funcs = msg.rt, msg.inst, msg.funcs
		return m, nil

	case callDone:
		m.calls++
		m.output, m.callErr = msg.output, msg.err
		m.screen = screenResult
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || (msg.String() == "q" && m.screen != screenArgs) {
			m.shutdown()
			return m, tea.Quit
		}
		if m.loadErr != nil || len(m.funcs) == 0 {
			return m, nil
		}
		switch m.screen {
		case screenList:
			return m.listKey(msg)
		case screenArgs:
			return m.argsKey(msg)
		case screenResult:
			return m.resultKey(msg)
		}
	}
	return m, nil
}

func (m *inspector) listKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.cursor = max(m.cursor-1, 0)
	case "down", "j":
		m.cursor = min(m.cursor+1, len(m.funcs)-1)
	case "enter":
		m.fields = argFields(m.funcs[m.cursor].params)
		m.focus = 0
		if len(m.fields) == 0 {
			return m, m.invoke
		}
		m.screen = screenArgs
	}
	return m, nil
}

func (m *inspector) argsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		return m, m.invoke
	case "esc":
		m.fields = nil
		m.screen = screenList
		return m, nil
	case "tab", "shift+tab":
		m.fields[m.focus].Blur()
		step := 1
		if msg.String() == "shift+tab" {
			step = len(m.fields) - 1
		}
		m.focus = (m.focus + step) % len(m.fields)
		return m, m.fields[m.focus].Focus()
	}
	var cmd tea.Cmd
	m.fields[m.focus], cmd = m.fields[m.focus].Update(msg)
	return m, cmd
}

func (m *inspector) resultKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.output, m.callErr = "", nil
		m.screen = screenList
	case "r":
		return m, m.invoke
	}
	return m, nil
}

// argFields builds one text field per parameter, placeholder showing the kind.
func argFields(params []value.Kind) []textinput.Model {
	fields := make([]textinput.Model, len(params))
	for i, k := range params {
		f := textinput.New()
		f.Prompt = fmt.Sprintf("%d> ", i)
		f.Placeholder = k.String()
		f.Width = 32
		if i == 0 {
			f.Focus()
		}
		fields[i] = f
	}
	return fields
}

func (m *inspector) invoke() tea.Msg {
	if m.inst == nil {
		return callDone{err: errors.Closed(errors.PhaseInvoke, "instance")}
	}
	fn := m.funcs[m.cursor]
	raw := make([]string, len(m.fields))
	for i := range m.fields {
		raw[i] = strings.TrimSpace(m.fields[i].Value())
	}
	args, err := parseArgs(fn.params, raw)
	if err != nil {
		return callDone{err: err}
	}
	results, err := m.inst.Call(context.Background(), fn.name, args)
	if err != nil {
		return callDone{err: err}
	}

	var out strings.Builder
	for i, v := range results {
		if i > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(v.String())
	}
	if len(results) == 0 {
		out.WriteString("(no results)")
	}
	if used, err := m.inst.PointsUsed(); err == nil {
		limit, _ := m.inst.PointsLimit()
		fmt.Fprintf(&out, "\npoints used: %d of %d", used, limit)
	}
	return callDone{output: out.String()}
}

func (m *inspector) View() string {
	switch {
	case m.loadErr != nil:
		return m.theme.fail.Render("cannot open "+m.path+": "+m.loadErr.Error()) + "\n\n" + m.theme.hint.Render("q quit")
	case len(m.funcs) == 0:
		return "opening " + m.path + "..."
	}

	var b strings.Builder
	b.WriteString(m.theme.header.Render(m.path))
	if m.calls > 0 {
		b.WriteString(m.theme.hint.Render(fmt.Sprintf("  %d calls", m.calls)))
	}
	b.WriteString("\n\n")
	switch m.screen {
	case screenList:
		m.viewList(&b)
	case screenArgs:
		m.viewArgs(&b)
	case screenResult:
		m.viewResult(&b)
	}
	return b.String()
}

func (m *inspector) viewList(b *strings.Builder) {
	for i, fn := range m.funcs {
		marker := "  "
		if i == m.cursor {
			marker = m.theme.header.Render(">") + " "
		}
		b.WriteString(marker + m.signature(fn) + "\n")
	}
	b.WriteString("\n" + m.theme.hint.Render("j/k move, enter call, q quit"))
}

func (m *inspector) viewArgs(b *strings.Builder) {
	fn := m.funcs[m.cursor]
	b.WriteString(m.signature(fn) + "\n\n")
	for _, f := range m.fields {
		b.WriteString(f.View() + "\n")
	}
	b.WriteString("\n" + m.theme.hint.Render("tab switch field, enter call, esc back"))
}

func (m *inspector) viewResult(b *strings.Builder) {
	b.WriteString(m.signature(m.funcs[m.cursor]) + "\n\n")
	if m.callErr != nil {
		b.WriteString(m.theme.fail.Render(m.callErr.Error()))
		if kind := errors.KindOf(m.callErr); kind != "" {
			b.WriteString("\n" + m.theme.hint.Render("kind "+string(kind)))
		}
	} else {
		b.WriteString(m.output)
	}
	b.WriteString("\n\n" + m.theme.hint.Render("enter back, r call again, q quit"))
}

// signature renders fn as name(kinds) -> kinds.
func (m *inspector) signature(fn exportInfo) string {
	render := func(kinds []value.Kind) string {
		parts := make([]string, len(kinds))
		for i, k := range kinds {
			parts[i] = m.theme.kind.Render(k.String())
		}
		return strings.Join(parts, ", ")
	}
	s := m.theme.name.Render(fn.name) + "(" + render(fn.params) + ")"
	if len(fn.results) > 0 {
		s += " -> " + render(fn.results)
	}
	return s
}
