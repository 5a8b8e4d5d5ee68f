package tray

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/sound-detection/internal/app"
	"github.com/petems/sound-detection/internal/config"
	"github.com/petems/sound-detection/internal/logging"
	"github.com/petems/sound-detection/internal/server"
	"github.com/petems/sound-detection/internal/state"
)

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	mu     sync.Mutex
	status string
	snap   state.Snapshot
	ready  bool

	unsubscribe func()

	// Menu items
	mStart   *systray.MenuItem
	mStop    *systray.MenuItem
	mBlow    *systray.MenuItem
	mWhistle *systray.MenuItem
	mDevices *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetMonitoring() {
	u.updateStatus("monitoring")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

func New(application *app.App, cfg *config.Config, log zerolog.Logger, version, commit string) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log,
		status:  "idle",
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Run blocks on the systray event loop until Quit is clicked or ctx is
// cancelled. It must be called from the main goroutine.
func (u *UI) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, systray.Quit)
	defer stop()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	systray.SetTooltip("Blow and whistle detection")

	u.mStart = systray.AddMenuItem("Start Monitoring", "Listen to the microphone")
	u.mStop = systray.AddMenuItem("Stop Monitoring", "Stop listening")
	systray.AddSeparator()

	blow, whistle := labelsFor(state.Snapshot{})
	u.mBlow = systray.AddMenuItem(blow, "")
	u.mBlow.Disable()
	u.mWhistle = systray.AddMenuItem(whistle, "")
	u.mWhistle.Disable()
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	mCopy := systray.AddMenuItem("Copy Snapshot", "Copy the current state as JSON")
	mLogs := systray.AddMenuItem("Log File", logging.Path())
	mLogs.Disable()
	mAbout := systray.AddMenuItem(fmt.Sprintf("Sound Detection %s (%s)", u.version, u.commit), "")
	mAbout.Disable()
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.mu.Lock()
	u.ready = true
	u.mu.Unlock()
	u.refresh()

	updates, unsubscribe := u.app.State().Subscribe()
	u.unsubscribe = unsubscribe
	go u.watch(updates)

	// Event loop
	go u.handleEvents(mCopy, mQuit)
}

func (u *UI) handleEvents(mCopy, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStart.ClickedCh:
			if err := u.app.Start(context.Background()); err != nil {
				u.log.Error().Err(err).Msg("Failed to start monitoring")
			}
		case <-u.mStop.ClickedCh:
			_ = u.app.Stop()
		case <-mCopy.ClickedCh:
			u.copySnapshot()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// watch applies published snapshots to the menu until unsubscribed.
func (u *UI) watch(updates <-chan state.Snapshot) {
	for snap := range updates {
		u.mu.Lock()
		u.snap = snap
		u.mu.Unlock()

		blow, whistle := labelsFor(snap)
		u.mBlow.SetTitle(blow)
		u.mWhistle.SetTitle(whistle)
		u.refresh()
	}
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if (u.cfg.Audio.DeviceID == "" && dev.Default) || u.cfg.Audio.DeviceID == dev.ID {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Error().Err(err).Str("device", deviceName).Msg("Failed to change audio device")
					continue
				}
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) copySnapshot() {
	u.mu.Lock()
	snap := u.snap
	u.mu.Unlock()

	data, err := snapshotJSON(snap, u.app.IsMonitoring())
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}
	if err := clipboard.WriteAll(string(data)); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy snapshot")
		return
	}
	u.log.Info().Uint64("seq", snap.Seq).Msg("Copied snapshot to clipboard")
}

func (u *UI) onExit() {
	if u.unsubscribe != nil {
		u.unsubscribe()
	}
}

// updateStatus records the app status and redraws the title.
func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	u.mu.Unlock()
	u.refresh()
}

// refresh redraws the title and enables Start or Stop to match the status,
// whichever side changed it.
func (u *UI) refresh() {
	u.mu.Lock()
	ready, status, title := u.ready, u.status, titleFor(u.status, u.snap)
	u.mu.Unlock()
	if !ready {
		return
	}
	systray.SetTitle(title)

	canStart, canStop := menuStateFor(status)
	setEnabled(u.mStart, canStart)
	setEnabled(u.mStop, canStop)
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}

// menuStateFor reports whether Start and Stop are clickable in status.
func menuStateFor(status string) (start, stop bool) {
	if status == "monitoring" {
		return false, true
	}
	return true, false
}

// titleFor builds the tray title: microphone, status dot, then one
// indicator per active detection.
func titleFor(status string, s state.Snapshot) string {
	title := fmt.Sprintf("🎤 %s", emojiForStatus(status))
	if status != "monitoring" {
		return title
	}
	if s.Blowing {
		title += " 💨"
	}
	if s.Whistling {
		title += " 🎵"
	}
	return title
}

// labelsFor returns the blow and whistle menu lines.
func labelsFor(s state.Snapshot) (string, string) {
	blow, whistle := "Blow: no", "Whistle: no"
	if s.Blowing {
		blow = "Blow: detected"
	}
	if s.Whistling {
		whistle = "Whistle: detected"
	}
	return blow, whistle
}

// snapshotJSON encodes s the same way GET /api/state does.
func snapshotJSON(s state.Snapshot, monitoring bool) ([]byte, error) {
	return json.MarshalIndent(server.NewStateMessage(s, monitoring, false), "", "  ")
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "monitoring":
		return "🔴" // Red - listening
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
