package infra

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/domain"
)

// Android key codes for navigation.
const (
	keyHome = 3
	keyBack = 4
)

// defaultCommandTimeout bounds every adb invocation. The caller's context
// is long-lived, so a wedged adb server must not block the tick loop.
const defaultCommandTimeout = 5 * time.Second

// AdbDevice drives an Android device over adb. It implements the device
// automation, foreground detection and app inventory capabilities.
type AdbDevice struct {
	adbPath string
	timeout time.Duration
	logger  *zap.Logger
}

// NewAdbDevice creates an adb-backed device. adbPath may be a bare
// binary name resolved via PATH.
func NewAdbDevice(adbPath string, logger *zap.Logger) *AdbDevice {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &AdbDevice{adbPath: adbPath, timeout: defaultCommandTimeout, logger: logger}
}

func (d *AdbDevice) shell(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, d.adbPath, append([]string{"shell"}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("adb shell %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// --- domain.DeviceAutomator implementation ---

// Home navigates to the home screen.
func (d *AdbDevice) Home(ctx context.Context) error {
	_, err := d.shell(ctx, "input", "keyevent", fmt.Sprint(keyHome))
	return err
}

// Back navigates back one step.
func (d *AdbDevice) Back(ctx context.Context) error {
	_, err := d.shell(ctx, "input", "keyevent", fmt.Sprint(keyBack))
	return err
}

// LaunchApp force-opens a package via its launcher intent.
func (d *AdbDevice) LaunchApp(ctx context.Context, pkg string) error {
	_, err := d.shell(ctx, "monkey", "-p", pkg,
		"-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// Tap taps absolute screen coordinates.
func (d *AdbDevice) Tap(ctx context.Context, x, y int) error {
	_, err := d.shell(ctx, "input", "tap", fmt.Sprint(x), fmt.Sprint(y))
	return err
}

// Type enters text into the focused field. adb replaces spaces with %s.
func (d *AdbDevice) Type(ctx context.Context, text string) error {
	escaped := strings.ReplaceAll(text, " ", "%s")
	_, err := d.shell(ctx, "input", "text", escaped)
	return err
}

// --- domain.ForegroundDetector implementation ---

var (
	resumedRe  = regexp.MustCompile(`mResumedActivity.*?\s([\w.]+)/[\w.$]+`)
	textAttrRe = regexp.MustCompile(`(?:text|content-desc)="([^"]+)"`)
	resIDRe    = regexp.MustCompile(`resource-id="([^"]*reel[^"]*)"`)
)

// Sample reads the resumed activity and the visible UI text. A device
// with no resumed activity yields an empty-package sample, not an error.
func (d *AdbDevice) Sample(ctx context.Context) (domain.ForegroundSample, error) {
	out, err := d.shell(ctx, "dumpsys", "activity", "activities")
	if err != nil {
		return domain.ForegroundSample{}, err
	}
	m := resumedRe.FindStringSubmatch(out)
	if m == nil {
		return domain.ForegroundSample{}, nil
	}
	sample := domain.ForegroundSample{Package: m[1]}

	// Screen text is best effort; classification degrades gracefully
	// without it.
	if texts, err := d.screenText(ctx); err != nil {
		d.logger.Debug("ui dump failed", zap.Error(err))
	} else {
		sample.ScreenText = texts
	}
	return sample, nil
}

// screenText dumps the UI hierarchy and extracts visible text,
// content descriptions and feed-player resource ids.
func (d *AdbDevice) screenText(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, d.adbPath, "exec-out",
		"uiautomator", "dump", "/dev/tty")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("uiautomator dump: %w", err)
	}

	var texts []string
	for _, m := range textAttrRe.FindAllStringSubmatch(string(out), -1) {
		texts = append(texts, m[1])
	}
	for _, m := range resIDRe.FindAllStringSubmatch(string(out), -1) {
		texts = append(texts, m[1])
	}
	return texts, nil
}

// --- domain.AppInventory implementation ---

var packageLineRe = regexp.MustCompile(`^package:([\w.]+)$`)

// InstalledApps lists third-party packages on the device.
func (d *AdbDevice) InstalledApps(ctx context.Context) ([]domain.AppRule, error) {
	out, err := d.shell(ctx, "pm", "list", "packages", "-3")
	if err != nil {
		return nil, err
	}

	var apps []domain.AppRule
	for _, line := range strings.Split(out, "\n") {
		m := packageLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		apps = append(apps, domain.AppRule{Package: m[1], Name: friendlyFromPackage(m[1])})
	}
	return apps, nil
}

func friendlyFromPackage(pkg string) string {
	seg := pkg
	if i := strings.LastIndex(pkg, "."); i >= 0 && i < len(pkg)-1 {
		seg = pkg[i+1:]
	}
	return strings.ToUpper(seg[:1]) + seg[1:]
}

// Ensure AdbDevice implements the device capabilities.
var (
	_ domain.DeviceAutomator    = (*AdbDevice)(nil)
	_ domain.ForegroundDetector = (*AdbDevice)(nil)
	_ domain.AppInventory       = (*AdbDevice)(nil)
)
