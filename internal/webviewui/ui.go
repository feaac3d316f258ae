// Package webviewui owns the native window: a webview with an injected
// toolbar that posts tab commands back to the host.
package webviewui

import (
	"encoding/json"
	"errors"
	"image"
	"log/slog"

	webview "github.com/webview/webview_go"

	"github.com/dgnsrekt/viewcast/internal/host"
)

// UI wraps the webview window. Construction, BindCommands and Run must
// happen on the main goroutine; LoadURL and Terminate dispatch onto the
// UI thread and are safe from anywhere.
type UI struct {
	w      webview.WebView
	width  int
	height int
}

// New creates the window. Fails when the host has no display to put a
// window on.
func New(width, height int, title string) (*UI, error) {
	w := webview.New(false)
	if w == nil {
		return nil, errors.New("webview window creation failed")
	}
	w.SetTitle(title)
	w.SetSize(width, height, webview.HintNone)
	w.Init(toolbarJS)
	return &UI{w: w, width: width, height: height}, nil
}

// BindCommands exposes the toolbar bridge to page scripts. Call before
// Run.
func (u *UI) BindCommands(submit func(cmd host.Command)) {
	err := u.w.Bind("viewcastPost", func(raw string) {
		var cmd host.Command
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			slog.Warn("webviewui bad toolbar message", "error", err)
			return
		}
		submit(cmd)
	})
	if err != nil {
		slog.Error("webviewui toolbar bind failed", "error", err)
	}
}

// LoadURL points the view at the URL from any goroutine.
func (u *UI) LoadURL(url string) {
	u.w.Dispatch(func() { u.w.Navigate(url) })
}

// Bounds reports the screen region captures should read. The toolkit has
// no window position query, so the window is assumed unmoved at its
// launch origin.
func (u *UI) Bounds() (image.Rectangle, bool) {
	return image.Rect(0, 0, u.width, u.height), true
}

// Run blocks serving the UI loop until Terminate.
func (u *UI) Run() { u.w.Run() }

// Terminate stops the UI loop from any goroutine.
func (u *UI) Terminate() { u.w.Dispatch(u.w.Terminate) }

// Destroy releases the window after Run returns.
func (u *UI) Destroy() { u.w.Destroy() }

// toolbarJS runs on every page load: mounts the address bar and reports
// the landed page back to the host.
const toolbarJS = `(function () {
  if (window.__viewcastToolbar) { return; }
  window.__viewcastToolbar = true;

  function post(msg) {
    if (window.viewcastPost) { window.viewcastPost(JSON.stringify(msg)); }
  }

  function mount() {
    if (!document.documentElement || document.getElementById('__viewcast_bar')) { return; }
    var bar = document.createElement('div');
    bar.id = '__viewcast_bar';
    bar.style.cssText = 'position:fixed;top:0;left:0;right:0;height:34px;z-index:2147483647;' +
      'display:flex;gap:4px;align-items:center;padding:2px 6px;background:#1e1e1e;' +
      'font:13px sans-serif;color:#ddd;';

    var input = document.createElement('input');
    input.style.cssText = 'flex:1;height:24px;border:none;border-radius:3px;padding:0 8px;';
    input.value = location.href;
    input.addEventListener('keydown', function (e) {
      if (e.key === 'Enter') { post({action: 'navigate', url: input.value}); }
    });

    var plus = document.createElement('button');
    plus.textContent = '+';
    plus.title = 'new tab';
    plus.addEventListener('click', function () { post({action: 'newTab'}); });

    bar.appendChild(input);
    bar.appendChild(plus);
    document.documentElement.appendChild(bar);
    if (document.body) { document.body.style.marginTop = '36px'; }
  }

  function report() {
    post({action: 'pageLoaded', url: location.href, title: document.title});
  }

  if (document.readyState === 'complete') {
    mount();
    report();
  } else {
    window.addEventListener('load', function () { mount(); report(); });
  }
})();`
