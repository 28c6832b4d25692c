package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"batch-transcriber/internal/config"
	"batch-transcriber/internal/diagnostics"
)

// FixDiagnostic applies the remediation available for one failed item.
// Tools are never installed automatically; the error says where to put them.
func (a *App) FixDiagnostic(itemID string) (diagnostics.Report, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return diagnostics.Report{}, fmt.Errorf("diagnostic item id is required")
	}

	settings := a.GetSettings()
	var fixErr error

	switch {
	case id == "models_dir":
		settings, fixErr = a.ensureModelsDir(settings)
		if fixErr == nil {
			if _, err := a.SaveSettings(settings); err != nil {
				fixErr = err
			}
		}
	case id == "model":
		_, fixErr = a.DownloadWhisperModel(settings.Model)
	case strings.HasPrefix(id, "tool_"):
		home, _ := os.UserHomeDir()
		fixErr = fmt.Errorf("install %s and put it on PATH or in %s", strings.TrimPrefix(id, "tool_"), localBinDir(home))
	case id == "openai_key":
		fixErr = fmt.Errorf("set %s before starting the application", a.Runtime.OpenAI.APIKeyEnv)
	default:
		return diagnostics.Report{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	report := a.RefreshDiagnostics()
	return report, fixErr
}

// ensureLocalBinOnPATH lets tools dropped into the per-user bin directory
// be found without touching the shell profile.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	entries := filepath.SplitList(current)
	for _, entry := range entries {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, config.AppDirName, "bin")
}
