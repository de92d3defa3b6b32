package setup

import (
	"bufio"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/worldland/gpustats/internal/proctree"
)

// ComponentStatus represents the availability of a helper binary
type ComponentStatus struct {
	Name      string
	Required  bool
	Installed bool
	Path      string
}

// PreflightResult contains the results of the preflight check
type PreflightResult struct {
	Components []ComponentStatus
	OSId       string // "ubuntu", "debian", etc.
	OSVersion  string // "22.04", "12", etc.
}

// Preflight inspects the host before sampling starts. Nothing it finds is
// fatal: a missing pgrep only means attribution sees no descendants.
type Preflight struct {
	lookPath  func(file string) (string, error)
	osRelease string
}

func NewPreflight() *Preflight {
	return &Preflight{lookPath: exec.LookPath, osRelease: "/etc/os-release"}
}

// Run checks for the helpers the given process source needs
func (p *Preflight) Run(procSource string) *PreflightResult {
	result := &PreflightResult{}
	result.OSId, result.OSVersion = detectOS(p.osRelease)
	result.Components = []ComponentStatus{
		p.checkComponent("pgrep", procSource == proctree.SourcePgrep || procSource == ""),
		p.checkComponent("nvidia-smi", false),
	}
	return result
}

// MissingRequired returns the names of required components that are not installed
func (r *PreflightResult) MissingRequired() []string {
	var missing []string
	for _, c := range r.Components {
		if c.Required && !c.Installed {
			missing = append(missing, c.Name)
		}
	}
	return missing
}

// Log writes the results to logger
func (r *PreflightResult) Log(logger *zap.Logger) {
	for _, c := range r.Components {
		switch {
		case c.Installed:
			logger.Debug("preflight component found", zap.String("name", c.Name), zap.String("path", c.Path))
		case c.Required:
			logger.Warn("preflight component missing, process attribution will see no descendants", zap.String("name", c.Name))
		default:
			logger.Debug("preflight component missing", zap.String("name", c.Name))
		}
	}
	logger.Debug("preflight host", zap.String("os", r.OSId), zap.String("version", r.OSVersion))
}

func (p *Preflight) checkComponent(name string, required bool) ComponentStatus {
	cs := ComponentStatus{Name: name, Required: required}
	path, err := p.lookPath(name)
	if err != nil {
		return cs
	}
	cs.Installed = true
	cs.Path = path
	return cs
}

func detectOS(path string) (id, version string) {
	f, err := os.Open(path)
	if err != nil {
		return "unknown", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ID=") {
			id = strings.Trim(strings.TrimPrefix(line, "ID="), "\"")
		}
		if strings.HasPrefix(line, "VERSION_ID=") {
			version = strings.Trim(strings.TrimPrefix(line, "VERSION_ID="), "\"")
		}
	}
	return id, version
}
