package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"promptloom/internal/config"
)

// Requirement defines an external binary promptloom relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// ConversionRequirements lists the conversion binaries named in cfg. Both are
// optional: a missing tool only skips the artifacts that need it.
func ConversionRequirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "LibreOffice",
			Command:     cfg.Tools.Soffice,
			Description: "Converts office documents to PDF",
			Optional:    true,
		},
		{
			Name:        "ImageMagick",
			Command:     cfg.Tools.Magick,
			Description: "Resizes images before upload",
			Optional:    true,
		},
	}
}

// Lookup resolves a single command, returning the Status detail as the error
// when it is unavailable.
func Lookup(name, command string) (string, error) {
	status := CheckBinaries([]Requirement{{Name: name, Command: command}})[0]
	if !status.Available {
		return "", fmt.Errorf("%s: %s", name, status.Detail)
	}
	path, err := exec.LookPath(status.Command)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return path, nil
}
