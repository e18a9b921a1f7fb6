package browser

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/weblogin-harvester/internal/config"
)

// serverlessMarkers are environment variables set by function-as-a-service
// platforms. Any one of them switches the launcher to the bundled binary.
var serverlessMarkers = []string{
	"AWS_LAMBDA_FUNCTION_VERSION",
	"AWS_EXECUTION_ENV",
	"VERCEL",
	"NOW_REGION",
	"NETLIFY",
}

var bundledExecCandidates = []string{
	"/opt/chromium/chromium",
	"/opt/headless-shell/headless-shell",
	"/headless-shell/headless-shell",
}

// flag is a single command line switch passed to the browser.
type flag struct {
	Name  string
	Value interface{}
}

// launchEnv is the part of the host the launcher looks at.
type launchEnv struct {
	getenv  func(string) string
	exists  func(string) bool
	goos    string
	tempDir string
}

func hostEnv() launchEnv {
	return launchEnv{
		getenv: os.Getenv,
		exists: func(path string) bool {
			info, err := os.Stat(path)
			return err == nil && !info.IsDir()
		},
		goos:    runtime.GOOS,
		tempDir: os.TempDir(),
	}
}

func (e launchEnv) serverless() bool {
	for _, name := range serverlessMarkers {
		if e.getenv(name) != "" {
			return true
		}
	}
	return false
}

// launchPlan is everything needed to start one browser process.
type launchPlan struct {
	Serverless   bool
	ExecPath     string // empty lets chromedp find an installed browser
	ProfileDir   string // empty uses a throwaway directory
	Headless     bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	Timeout      time.Duration
	Flags        []flag
}

func newLaunchPlan(cfg config.BrowserConfig, env launchEnv) launchPlan {
	plan := launchPlan{
		Serverless:   env.serverless(),
		Headless:     cfg.Headless,
		UserAgent:    cfg.UserAgent,
		WindowWidth:  cfg.WindowWidth,
		WindowHeight: cfg.WindowHeight,
		Timeout:      cfg.LaunchTimeout,
		ProfileDir:   cfg.ScratchProfileDir,
	}

	if plan.Serverless {
		plan.ExecPath = firstExisting(env, append([]string{cfg.BundledExecPath}, bundledExecCandidates...))
		if plan.ExecPath == "" {
			plan.ExecPath = cfg.BundledExecPath
		}
		if plan.ProfileDir == "" {
			plan.ProfileDir = filepath.Join(env.tempDir, "chromium-profile")
		}
		plan.Flags = append(plan.Flags,
			flag{"no-sandbox", true},
			flag{"disable-setuid-sandbox", true},
			flag{"disable-dev-shm-usage", true},
			flag{"single-process", true},
			flag{"no-zygote", true},
			flag{"disable-gpu", true},
		)
	} else {
		plan.ExecPath = cfg.ExecPath
		if plan.ExecPath == "" {
			plan.ExecPath = firstExisting(env, localExecCandidates(env))
		}
		if env.goos == "linux" {
			plan.Flags = append(plan.Flags,
				flag{"no-sandbox", true},
				flag{"disable-dev-shm-usage", true},
			)
		}
	}

	plan.Flags = append(plan.Flags, flag{"disable-blink-features", "AutomationControlled"})
	if cfg.IgnoreTLSErrors {
		plan.Flags = append(plan.Flags, flag{"ignore-certificate-errors", true})
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			plan.Flags = append(plan.Flags, flag{key, value})
		} else {
			plan.Flags = append(plan.Flags, flag{key, true})
		}
	}
	return plan
}

// localExecCandidates lists the usual install locations for the host OS.
func localExecCandidates(env launchEnv) []string {
	switch env.goos {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		programFiles := env.getenv("PROGRAMFILES")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		programFilesX86 := env.getenv("PROGRAMFILES(X86)")
		if programFilesX86 == "" {
			programFilesX86 = `C:\Program Files (x86)`
		}
		return []string{
			filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(programFilesX86, "Google", "Chrome", "Application", "chrome.exe"),
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}
}

func firstExisting(env launchEnv, paths []string) string {
	for _, p := range paths {
		if p != "" && env.exists(p) {
			return p
		}
	}
	return ""
}

// withProfile returns a copy of p that uses dir as its user data directory.
func (p launchPlan) withProfile(dir string) launchPlan {
	p.ProfileDir = dir
	return p
}

// allocatorOptions converts the plan into chromedp exec allocator options.
func (p launchPlan) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+len(p.Flags)+6)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	if !p.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if p.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.ExecPath))
	}
	if p.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(p.ProfileDir))
	}
	if p.WindowWidth > 0 && p.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(p.WindowWidth, p.WindowHeight))
	}
	if p.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.UserAgent))
	}
	if p.Timeout > 0 {
		opts = append(opts, chromedp.WSURLReadTimeout(p.Timeout))
	}
	for _, f := range p.Flags {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}

// crashSignatures are fragments of launch errors caused by a browser that
// died or never came up, usually because of a stale or locked profile.
var crashSignatures = []string{
	"websocket url timeout",
	"chrome failed to start",
	"target closed",
	"connection closed",
	"unexpected eof",
	"broken pipe",
	"connection reset",
	"exited",
}

// isCrash reports whether err looks like a dead or unreachable browser.
func isCrash(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range crashSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
