// Package launcher renders the "Chrome (uBO).app" bundle that relaunches the
// browser with the MV2 flags and the unpacked extension.
package launcher

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"al.essio.dev/pkg/shellescape"
	"github.com/teamcutter/ublock-chrome/internal/domain"
)

const (
	MV2Flags          = "--disable-features=ExtensionManifestV2Unsupported,ExtensionManifestV2Disabled"
	LoadExtensionFlag = "--load-extension="

	BundleID    = "com.ublock-chrome.launcher"
	DisplayName = "Chrome (uBO)"

	scriptPath = "Contents/MacOS/launch.sh"
	plistPath  = "Contents/Info.plist"
	iconPath   = "Contents/Resources/AppIcon.icns"
)

// Spec derives the launch arguments for extDir. Every launcher and every
// direct browser start goes through here.
func Spec(browserApp, processName, extDir string) domain.LaunchSpec {
	return domain.LaunchSpec{
		BrowserApp:   browserApp,
		ProcessName:  processName,
		ExtensionDir: extDir,
		Args:         []string{MV2Flags, LoadExtensionFlag + extDir},
	}
}

var scriptTmpl = template.Must(template.New("launch.sh").Parse(`#!/bin/bash
# {{.Display}}, generated by ublock-chrome.
# Starts Chrome with Manifest V2 flags and uBlock Origin loaded.

CHROME_APP={{.App}}
PROCESS={{.Process}}

# Flags only apply on a fresh launch.
if pgrep -x "$PROCESS" > /dev/null 2>&1; then
    CHOICE=$(osascript -e {{.Dialog}} -e 'button returned of result' 2>/dev/null)

    if [ "$CHOICE" != "Quit & Relaunch" ]; then
        exit 0
    fi

    osascript -e {{.Quit}} 2>/dev/null

    # Up to 15s for a graceful exit.
    for i in $(seq 1 30); do
        pgrep -x "$PROCESS" > /dev/null 2>&1 || break
        sleep 0.5
    done

    if pgrep -x "$PROCESS" > /dev/null 2>&1; then
        pkill -9 -x "$PROCESS"
        sleep 1
    fi
fi

exec open -a "$CHROME_APP" --args{{range .Args}} \
    {{.}}{{end}}
`))

var plistTmpl = template.Must(template.New("Info.plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>CFBundleExecutable</key>      <string>launch.sh</string>
    <key>CFBundleIdentifier</key>      <string>{{.ID}}</string>
    <key>CFBundleName</key>            <string>{{.Display}}</string>
    <key>CFBundleDisplayName</key>     <string>{{.Display}}</string>
    <key>CFBundleVersion</key>         <string>1.0</string>
    <key>CFBundlePackageType</key>     <string>APPL</string>
    <key>CFBundleIconFile</key>        <string>AppIcon</string>
    <key>LSMinimumSystemVersion</key>  <string>10.15</string>
    <key>NSHighResolutionCapable</key> <true/>
</dict>
</plist>
`))

var dialogTmpl = template.Must(template.New("dialog").Parse(`
        display dialog "{{.Title}} is already running.\n\nFlags are only applied on a fresh launch. Quit and relaunch with uBlock Origin?" ¬
            buttons {"Cancel", "Quit & Relaunch"} ¬
            default button "Quit & Relaunch" ¬
            with title "{{.Display}}" ¬
            with icon caution`))

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// appleScriptString escapes s for use inside a double-quoted AppleScript literal.
func appleScriptString(s string) string {
	return appleScriptEscaper.Replace(s)
}

type Bundler struct{}

func New() *Bundler {
	return &Bundler{}
}

// AppTitle is the application name osascript addresses, e.g. "Google Chrome".
func AppTitle(browserApp string) string {
	return strings.TrimSuffix(filepath.Base(browserApp), ".app")
}

// Render returns the generated bundle files keyed by path relative to the
// bundle root.
func (b *Bundler) Render(spec domain.LaunchSpec) (map[string][]byte, error) {
	args := make([]string, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = shellescape.Quote(a)
	}

	title := appleScriptString(AppTitle(spec.BrowserApp))

	var dialog bytes.Buffer
	if err := dialogTmpl.Execute(&dialog, struct{ Title, Display string }{title, DisplayName}); err != nil {
		return nil, fmt.Errorf("render dialog: %w", err)
	}

	data := struct {
		Display string
		ID      string
		Dialog  string
		Quit    string
		App     string
		Process string
		Args    []string
	}{
		Display: DisplayName,
		ID:      BundleID,
		Dialog:  shellescape.Quote(dialog.String()),
		Quit:    shellescape.Quote(`tell application "` + title + `" to quit`),
		App:     shellescape.Quote(spec.BrowserApp),
		Process: shellescape.Quote(spec.ProcessName),
		Args:    args,
	}

	var script, plist bytes.Buffer
	if err := scriptTmpl.Execute(&script, data); err != nil {
		return nil, fmt.Errorf("render launch.sh: %w", err)
	}
	if err := plistTmpl.Execute(&plist, data); err != nil {
		return nil, fmt.Errorf("render Info.plist: %w", err)
	}

	return map[string][]byte{
		scriptPath: script.Bytes(),
		plistPath:  plist.Bytes(),
	}, nil
}

// InSync reports whether the bundle at dir matches what Render produces for spec.
func (b *Bundler) InSync(spec domain.LaunchSpec, dir string) bool {
	files, err := b.Render(spec)
	if err != nil {
		return false
	}

	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil || !bytes.Equal(got, want) {
			return false
		}
	}
	return true
}

// Build writes a fresh bundle at dir, replacing any previous one.
func (b *Bundler) Build(spec domain.LaunchSpec, dir string) error {
	files, err := b.Render(spec)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return domain.FilesystemError("remove old launcher", err)
	}

	for _, sub := range []string{"Contents/MacOS", "Contents/Resources"} {
		if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(sub)), 0755); err != nil {
			return domain.FilesystemError("create launcher", err)
		}
	}

	for rel, data := range files {
		mode := os.FileMode(0644)
		if strings.HasSuffix(rel, ".sh") {
			mode = 0755
		}
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.WriteFile(path, data, mode); err != nil {
			return domain.FilesystemError("write "+rel, err)
		}
		// WriteFile keeps the mode of an existing file and applies umask.
		if err := os.Chmod(path, mode); err != nil {
			return domain.FilesystemError("chmod "+rel, err)
		}
	}

	icon := filepath.Join(spec.BrowserApp, "Contents", "Resources", "app.icns")
	if info, err := os.Stat(icon); err == nil {
		if err := copyFile(icon, filepath.Join(dir, filepath.FromSlash(iconPath)), info.Mode()); err != nil {
			return domain.FilesystemError("copy icon", err)
		}
	}

	return nil
}

// ScriptPath is the launcher executable inside a bundle.
func ScriptPath(bundle string) string {
	return filepath.Join(bundle, filepath.FromSlash(scriptPath))
}
