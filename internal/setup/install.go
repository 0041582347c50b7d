package setup

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed unit.tmpl
var unitTemplate string

const serviceName = "raindroprelay.service"

// unitPath returns the location of the systemd user unit file.
func unitPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user", serviceName), nil
}

// InstallBinary copies the currently running executable to a stable location
// so the daemon unit does not point at a build directory. It prefers
// /usr/local/bin and falls back to ~/.local/bin when that is not writable.
// Returns the installed path.
func InstallBinary() (string, error) {
	src, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating current executable: %w", err)
	}
	src, err = filepath.EvalSymlinks(src)
	if err != nil {
		return "", fmt.Errorf("resolving executable path: %w", err)
	}

	dir := "/usr/local/bin"
	if !isWritable(dir) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		dir = filepath.Join(home, ".local", "bin")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	dst := filepath.Join(dir, "raindroprelay")
	if dst == src {
		return dst, nil
	}
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("installing binary to %s: %w", dst, err)
	}
	return dst, nil
}

// RemoveBinary deletes installed copies of the binary from the standard
// locations. Missing files are not an error.
func RemoveBinary() error {
	home, _ := os.UserHomeDir()
	candidates := []string{"/usr/local/bin/raindroprelay"}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".local", "bin", "raindroprelay"))
	}
	for _, path := range candidates {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

// InstallDaemon writes the systemd user unit pointing at binaryPath and
// configPath, reloads the user manager, and enables and starts the service.
func InstallDaemon(binaryPath, configPath string) error {
	path, err := unitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating systemd user directory: %w", err)
	}

	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return fmt.Errorf("parsing unit template: %w", err)
	}
	var buf strings.Builder
	err = tmpl.Execute(&buf, struct {
		BinaryPath string
		ConfigPath string
	}{BinaryPath: binaryPath, ConfigPath: configPath})
	if err != nil {
		return fmt.Errorf("rendering unit file: %w", err)
	}
	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("writing unit file: %w", err)
	}

	if out, err := exec.Command("systemctl", "--user", "daemon-reload").CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	if out, err := exec.Command("systemctl", "--user", "enable", "--now", serviceName).CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl enable: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// UninstallDaemon stops and disables the service and removes the unit file.
// A service that was never installed is not an error.
func UninstallDaemon() error {
	path, err := unitPath()
	if err != nil {
		return err
	}

	// Ignore failures here: the unit may not be loaded.
	_ = exec.Command("systemctl", "--user", "disable", "--now", serviceName).Run()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}
	if out, err := exec.Command("systemctl", "--user", "daemon-reload").CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// IsDaemonActive reports whether the systemd user service is currently
// running.
func IsDaemonActive() bool {
	out, err := exec.Command("systemctl", "--user", "is-active", serviceName).Output()
	return err == nil && strings.TrimSpace(string(out)) == "active"
}

// PurgeUserData removes the configuration directory and the state database
// directory. Called by uninstall after explicit confirmation.
func PurgeUserData() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	dirs := []string{
		filepath.Join(home, ".config", "raindroprelay"),
		filepath.Join(home, ".local", "share", "raindroprelay"),
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return nil
}

func isWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".raindroprelay-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".new"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
