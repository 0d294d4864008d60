package integration

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

func TestDaemonLifecycle(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := NewTestEnv(t, "life")

	g.Expect(env.RunCLI("status").Contains("not running")).To(BeTrue())

	env.StartDaemon()

	status := env.RunCLI("status")
	g.Expect(status.ExitCode).To(Equal(0))
	g.Expect(status.Stdout).To(ContainSubstring("Serving: nfs on " + env.listen))
	g.Expect(status.Stdout).To(ContainSubstring("Usage: 1 inodes"))

	again := env.RunCLI("serve")
	g.Expect(again.ExitCode).To(Equal(0))
	g.Expect(again.Stdout).To(ContainSubstring("already running"))

	env.StopDaemon()
	g.Expect(env.RunCLI("status").Contains("not running")).To(BeTrue())
	g.Expect(filepath.Join(env.configDir, "daemon.sock")).NotTo(BeAnExistingFile())
}

func TestDaemonSeed(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := NewTestEnv(t, "seed")

	src := t.TempDir()
	g.Expect(os.MkdirAll(filepath.Join(src, "pkg"), 0755)).To(Succeed())
	g.Expect(os.WriteFile(filepath.Join(src, "pkg", "a.go"), []byte("package pkg\n"), 0644)).To(Succeed())
	g.Expect(os.WriteFile(filepath.Join(src, "README"), []byte("hi"), 0644)).To(Succeed())

	env.StartDaemon("--seed", src)
	// root, pkg, pkg/a.go, README
	g.Expect(env.RunCLI("status").Stdout).To(ContainSubstring("Usage: 4 inodes"))
	env.StopDaemon()
}

func TestServeRejectsBadSettings(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := NewTestEnv(t, "bad")

	result := env.RunCLI("serve", "--log-level", "loud")
	g.Expect(result.ExitCode).NotTo(Equal(0))
	g.Expect(result.Stderr).To(ContainSubstring(`"loud"`))

	result = env.RunCLI("serve", "--max-bytes", "-1")
	g.Expect(result.ExitCode).NotTo(Equal(0))
}

func TestSettingsCommand(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := NewTestEnv(t, "set")

	result := env.RunCLI("settings")
	g.Expect(result.ExitCode).To(Equal(0), result.Combined)
	g.Expect(result.Stdout).To(ContainSubstring(env.listen))
	g.Expect(result.Stdout).To(ContainSubstring("transport: nfs"))
	g.Expect(filepath.Join(env.configDir, "settings.yaml")).To(BeAnExistingFile())
}
