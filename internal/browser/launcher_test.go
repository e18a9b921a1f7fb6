package browser

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/weblogin-harvester/internal/config"
)

func flagNames(p launchPlan) []string {
	names := make([]string, 0, len(p.Flags))
	for _, f := range p.Flags {
		names = append(names, f.Name)
	}
	return names
}

func TestLaunchEnv_Serverless(t *testing.T) {
	for _, marker := range serverlessMarkers {
		t.Run(marker, func(t *testing.T) {
			env := testEnv(t, map[string]string{marker: "1"})
			assert.True(t, env.serverless())
		})
	}
	assert.False(t, testEnv(t, map[string]string{"HOME": "/root"}).serverless())
}

func TestNewLaunchPlan_Serverless(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	env := testEnv(t, map[string]string{"AWS_LAMBDA_FUNCTION_VERSION": "$LATEST"}, "/opt/headless-shell/headless-shell")

	plan := newLaunchPlan(cfg, env)
	assert.True(t, plan.Serverless)
	assert.Equal(t, "/opt/headless-shell/headless-shell", plan.ExecPath)
	assert.Equal(t, filepath.Join(env.tempDir, "chromium-profile"), plan.ProfileDir)
	assert.Subset(t, flagNames(plan), []string{
		"no-sandbox", "disable-setuid-sandbox", "disable-dev-shm-usage",
		"single-process", "no-zygote", "disable-gpu", "disable-blink-features",
	})
	assert.Equal(t, 1280, plan.WindowWidth)
	assert.Equal(t, 800, plan.WindowHeight)
}

func TestNewLaunchPlan_ServerlessConfiguredBinaryAndProfile(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	cfg.BundledExecPath = "/var/task/chromium"
	cfg.ScratchProfileDir = "/tmp/custom-profile"
	env := testEnv(t, map[string]string{"NETLIFY": "true"}, "/var/task/chromium", "/opt/chromium/chromium")

	plan := newLaunchPlan(cfg, env)
	assert.Equal(t, "/var/task/chromium", plan.ExecPath)
	assert.Equal(t, "/tmp/custom-profile", plan.ProfileDir)
}

func TestNewLaunchPlan_LocalLinux(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	env := testEnv(t, nil, "/usr/bin/chromium", "/snap/bin/chromium")

	plan := newLaunchPlan(cfg, env)
	assert.False(t, plan.Serverless)
	assert.Equal(t, "/usr/bin/chromium", plan.ExecPath)
	assert.Empty(t, plan.ProfileDir)
	assert.Equal(t, []string{"no-sandbox", "disable-dev-shm-usage", "disable-blink-features"}, flagNames(plan))
}

func TestNewLaunchPlan_LocalConfiguredPathWins(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	cfg.ExecPath = "/home/me/chrome/chrome"
	env := testEnv(t, nil, "/usr/bin/google-chrome")

	assert.Equal(t, "/home/me/chrome/chrome", newLaunchPlan(cfg, env).ExecPath)
}

func TestNewLaunchPlan_LocalFallsBackToAutoDiscovery(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	env := testEnv(t, nil)
	env.goos = "darwin"

	plan := newLaunchPlan(cfg, env)
	assert.Empty(t, plan.ExecPath)
	assert.NotContains(t, flagNames(plan), "no-sandbox")
}

func TestLocalExecCandidates_Windows(t *testing.T) {
	env := testEnv(t, map[string]string{"PROGRAMFILES": `D:\Apps`})
	env.goos = "windows"

	got := localExecCandidates(env)
	assert.Len(t, got, 2)
	assert.Equal(t, filepath.Join(`D:\Apps`, "Google", "Chrome", "Application", "chrome.exe"), got[0])
}

func TestNewLaunchPlan_ExtraArgs(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	cfg.Args = []string{"--proxy-server=http://127.0.0.1:8080", "mute-audio", "--"}
	cfg.IgnoreTLSErrors = true

	plan := newLaunchPlan(cfg, testEnv(t, nil))
	assert.Contains(t, plan.Flags, flag{"proxy-server", "http://127.0.0.1:8080"})
	assert.Contains(t, plan.Flags, flag{"mute-audio", true})
	assert.Contains(t, plan.Flags, flag{"ignore-certificate-errors", true})
	assert.Contains(t, plan.Flags, flag{"disable-blink-features", "AutomationControlled"})
}

func TestLaunchPlan_AllocatorOptions(t *testing.T) {
	plan := launchPlan{
		ExecPath:     "/usr/bin/chromium",
		ProfileDir:   "/tmp/p",
		Headless:     true,
		UserAgent:    "ua",
		WindowWidth:  1280,
		WindowHeight: 800,
		Timeout:      time.Second,
		Flags:        []flag{{"no-sandbox", true}, {"disable-blink-features", "AutomationControlled"}},
	}
	base := len(chromedp.DefaultExecAllocatorOptions)
	assert.Len(t, plan.allocatorOptions(), base+5+len(plan.Flags))

	plan.Headless = false
	plan.ExecPath = ""
	assert.Len(t, plan.allocatorOptions(), base+5+len(plan.Flags))
}

func TestIsCrash(t *testing.T) {
	crashes := []string{
		"websocket url timeout reached",
		"chrome failed to start:\n[0101/000000.000000:FATAL:zygote_host_impl_linux.cc]",
		"Target closed",
		"read tcp 127.0.0.1:1234: connection reset by peer",
		"unexpected EOF",
		"write: broken pipe",
		"Connection closed",
		"process exited with status 127",
	}
	for _, msg := range crashes {
		assert.True(t, isCrash(errors.New(msg)), msg)
	}
	assert.False(t, isCrash(errors.New("executable file not found in $PATH")))
	assert.False(t, isCrash(nil))
}
