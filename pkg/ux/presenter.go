package ux

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/noxsuite/noxinstall/pkg/audit"
	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/pipeline"
	"github.com/noxsuite/noxinstall/pkg/validate"
	"github.com/noxsuite/noxinstall/pkg/wizard"
)

// Service is one endpoint listed in the completion report.
type Service struct {
	Name string
	URL  string
}

// Services returns the endpoints a configuration exposes.
func Services(cfg engine.InstallConfig) []Service {
	out := []Service{
		{"NoxPanel web interface", "http://localhost:3000"},
		{"API documentation", "http://localhost:8000/api/docs"},
		{"Monitoring", "http://localhost:3001"},
	}
	if cfg.EnableAI {
		out = append(out, Service{"AI hub", "http://localhost:7860"})
	}
	return out
}

// Terminal renders installer screens to a writer. It implements
// wizard.Presenter and pipeline.Reporter.
type Terminal struct {
	out   io.Writer
	ascii bool
}

var (
	_ wizard.Presenter  = (*Terminal)(nil)
	_ pipeline.Reporter = (*Terminal)(nil)
)

// NewTerminal creates a Terminal. ascii selects the fallback icon set.
func NewTerminal(out io.Writer, ascii bool) *Terminal {
	return &Terminal{out: out, ascii: ascii}
}

// SetASCII switches the icon set.
func (t *Terminal) SetASCII(ascii bool) {
	t.ascii = ascii
}

func (t *Terminal) println(s string) {
	fmt.Fprintln(t.out, s)
}

func (t *Terminal) kv(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "%s %s\n", Styles.Muted.Render(fmt.Sprintf("%-18s", key+":")), value)
}

// Welcome shows the detected system and any previous failures.
func (t *Terminal) Welcome(info engine.SystemInfo, analysis *audit.Analysis) {
	t.println(Styles.Title.Render("NoxSuite Installer"))
	t.println(Styles.Subtitle.Render("Self-healing installation for the NoxSuite platform"))
	t.println("")

	var b strings.Builder
	t.kv(&b, "Operating system", fmt.Sprintf("%s (%s)", info.OSType, info.Architecture))
	t.kv(&b, "Memory", fmt.Sprintf("%.1f GB", info.MemoryGB))
	t.kv(&b, "CPU cores", fmt.Sprintf("%d", info.CPUCores))
	t.kv(&b, "Package managers", orNone(info.PackageManagers))
	t.kv(&b, "Tools", orNone(availableTools(info)))
	t.println(box(Styles.Box, t.ascii).Render(strings.TrimRight(b.String(), "\n")))

	if analysis == nil || !analysis.HasFailures() {
		return
	}
	var w strings.Builder
	fmt.Fprintf(&w, "%d failed steps in the previous installation\n", len(analysis.FailedSteps))
	for _, r := range analysis.Recommendations {
		fmt.Fprintf(&w, "%s %s\n", IconBullet.String(t.ascii), r)
	}
	t.println(box(Styles.WarningBox, t.ascii).Render(strings.TrimRight(w.String(), "\n")))
}

// Modules lists the module catalogue.
func (t *Terminal) Modules(modules []wizard.Module) {
	t.println(Styles.Bold.Render("Available modules"))
	for i, m := range modules {
		star := " "
		if m.Recommended {
			star = Styles.Highlight.Render(IconStar.String(t.ascii))
		}
		fmt.Fprintf(t.out, "  %2d. %s %-18s %s\n", i+1, star, m.Name, Styles.Muted.Render(m.Description))
	}
	t.println(Styles.Muted.Render("Enter numbers separated by commas, or recommended, all, minimal"))
}

// Models lists the AI model catalogue.
func (t *Terminal) Models(models []wizard.Model, recommended string) {
	t.println(Styles.Bold.Render("Available AI models"))
	for i, m := range models {
		fmt.Fprintf(t.out, "  %2d. %-22s %-36s %s\n", i+1, m.Name, m.Description, Styles.Muted.Render(m.Footprint))
	}
	if recommended != "" {
		t.println(Styles.Muted.Render("Recommended for this system: " + recommended))
	}
}

// Preview shows the plan before confirmation.
func (t *Terminal) Preview(p *wizard.Preview) {
	cfg := p.Config
	var b strings.Builder
	t.kv(&b, "Directory", cfg.InstallDirectory)
	t.kv(&b, "Mode", string(cfg.Mode))
	t.kv(&b, "Modules", fmt.Sprintf("%d (%s)", len(cfg.Modules), strings.Join(cfg.Modules, ", ")))
	t.kv(&b, "AI features", enabled(cfg.EnableAI))
	if cfg.EnableAI {
		t.kv(&b, "AI models", orNone(cfg.AIModels))
	}
	t.kv(&b, "Voice", enabled(cfg.EnableVoice))
	t.kv(&b, "Mobile", enabled(cfg.EnableMobile))
	t.kv(&b, "Auto start", enabled(cfg.AutoStart))
	t.kv(&b, "Estimated size", fmt.Sprintf("%.1f GB", p.EstimatedSizeGB))
	t.kv(&b, "Estimated time", fmt.Sprintf("%d minutes", p.EstimatedMinutes))

	t.println(Styles.Bold.Render("Installation preview"))
	t.println(box(Styles.Box, t.ascii).Render(strings.TrimRight(b.String(), "\n")))
	for _, w := range p.Warnings {
		t.println(Styles.Warning.Render(IconWarning.String(t.ascii) + " " + w))
	}
}

// Notice prints one informational line.
func (t *Terminal) Notice(message string) {
	t.println(Styles.Subtitle.Render(message))
}

// Completion renders the final report of a successful run.
func (t *Terminal) Completion(r *pipeline.Report) {
	if r.DryRun {
		t.println(Styles.Success.Render(IconSuccess.String(t.ascii) + " Dry run complete, no changes were made"))
		return
	}

	title := IconSuccess.String(t.ascii) + " NoxSuite installed"
	style := Styles.Success
	if r.Status() == pipeline.StatusCompletedWithWarnings {
		title = IconWarning.String(t.ascii) + " NoxSuite installed with warnings"
		style = Styles.Warning
	}
	t.println(style.Bold(true).Render(title))

	var b strings.Builder
	if r.Config != nil {
		t.kv(&b, "Directory", r.Config.InstallDirectory)
		t.kv(&b, "Modules", fmt.Sprintf("%d", len(r.Config.Modules)))
		t.kv(&b, "AI features", enabled(r.Config.EnableAI))
		b.WriteString("\n")
		for _, s := range Services(*r.Config) {
			t.kv(&b, s.Name, Styles.Highlight.Render(s.URL))
		}
	}
	t.println(box(Styles.Box, t.ascii).Render(strings.TrimRight(b.String(), "\n")))

	for _, w := range r.Warnings {
		t.println(Styles.Warning.Render(IconWarning.String(t.ascii) + " " + w))
	}

	t.println(Styles.Bold.Render("Next steps"))
	if r.Config != nil {
		arrow := IconArrow.String(t.ascii)
		if !r.Config.AutoStart {
			fmt.Fprintf(t.out, "  %s Start the services: %s\n", arrow, startScript(r.Config.InstallDirectory))
		}
		fmt.Fprintf(t.out, "  %s Open %s in your browser\n", arrow, Services(*r.Config)[0].URL)
		fmt.Fprintf(t.out, "  %s Check the installation any time: noxinstall validate --dir %s\n", arrow, r.Config.InstallDirectory)
	}
	if r.LogFile != "" {
		t.println(Styles.Muted.Render("Log file: " + r.LogFile))
	}
	if r.SummaryPath != "" {
		t.println(Styles.Muted.Render("Summary: " + filepath.Base(r.SummaryPath)))
	}
}

// Failure renders a run that stopped with err.
func (t *Terminal) Failure(err error, logFile string) {
	var ie *engine.InstallError
	var b strings.Builder
	if errors.As(err, &ie) {
		t.kv(&b, "Error", ie.Message)
		if ie.Step != "" {
			t.kv(&b, "Step", ie.Step)
		}
		t.kv(&b, "Type", string(ie.Kind))
		if ie.Code != "" {
			t.kv(&b, "Code", ie.Code)
		}
		if ie.Err != nil {
			t.kv(&b, "Cause", ie.Err.Error())
		}
	} else {
		t.kv(&b, "Error", err.Error())
	}

	title := IconError.String(t.ascii) + " Installation failed"
	if engine.IsUserAbort(err) {
		title = IconWarning.String(t.ascii) + " Installation cancelled"
	}
	t.println(Styles.Error.Bold(true).Render(title))
	t.println(box(Styles.ErrorBox, t.ascii).Render(strings.TrimRight(b.String(), "\n")))
	for _, hint := range Hints(err) {
		fmt.Fprintf(t.out, "  %s %s\n", IconArrow.String(t.ascii), hint)
	}
	if logFile != "" {
		t.println(Styles.Muted.Render("Details were written to " + logFile))
	}
}

// Hints returns follow-up suggestions for a failed run.
func Hints(err error) []string {
	switch engine.KindOf(err) {
	case engine.KindValidation:
		return []string{
			"Fix the reported prerequisite and run the installer again",
			"Run noxinstall safe for a minimal installation",
		}
	case engine.KindDependency:
		return []string{
			"Install the missing tools manually, then retry",
			"Run noxinstall recovery to reuse the previous failure analysis",
		}
	case engine.KindScaffold:
		return []string{
			"Check the permissions of the installation directory",
			"Choose a directory in your home folder",
		}
	case engine.KindConfiguration:
		return []string{"Run noxinstall heal to regenerate the configuration"}
	case engine.KindUserAbort:
		return nil
	default:
		return []string{"Run noxinstall recovery to retry with adjusted settings"}
	}
}

// Validation renders a validation pass and an optional healing pass.
func (t *Terminal) Validation(res *validate.ValidationResult, heal *validate.HealingResult) {
	if res.OK() {
		t.println(Styles.Success.Render(fmt.Sprintf("%s All %d checks passed", IconSuccess.String(t.ascii), res.Total)))
	} else {
		t.println(Styles.Warning.Render(fmt.Sprintf("%s %d of %d checks passed", IconWarning.String(t.ascii), res.Passed, res.Total)))
		for _, f := range res.Failures {
			fmt.Fprintf(t.out, "  %s %-20s %s\n", Styles.Error.Render(IconError.String(t.ascii)), f.Kind, f.Message)
		}
	}
	if heal == nil {
		return
	}
	for _, f := range heal.Healed {
		fmt.Fprintf(t.out, "  %s healed %s\n", Styles.Success.Render(IconSuccess.String(t.ascii)), describe(f))
	}
	for _, f := range heal.Unrecoverable {
		fmt.Fprintf(t.out, "  %s cannot heal %s\n", Styles.Error.Render(IconError.String(t.ascii)), describe(f))
	}
}

// Table renders rows under headers.
func (t *Terminal) Table(headers []string, rows [][]string) {
	border := lipgloss.RoundedBorder()
	if t.ascii {
		border = lipgloss.ASCIIBorder()
	}
	tbl := table.New().
		Border(border).
		BorderStyle(Styles.Muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.Bold.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	t.println(tbl.Render())
}

func describe(f validate.Failure) string {
	if f.Path != "" {
		return f.Path
	}
	return f.Check
}

func startScript(dir string) string {
	name := "start-noxsuite.sh"
	if filepath.Separator == '\\' {
		name = "start-noxsuite.bat"
	}
	return filepath.Join(dir, "scripts", name)
}

func availableTools(info engine.SystemInfo) []string {
	var out []string
	for _, name := range []string{"python", "node", "docker", "git", "ollama"} {
		if info.ToolAvailable(name) {
			out = append(out, name)
		}
	}
	return out
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
