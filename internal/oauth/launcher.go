package oauth

import (
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"pier/pkg/logging"
)

// DefaultCallbackPort is where the loopback redirect target listens.
const DefaultCallbackPort = 19877

const callbackPath = "/oauth/callback"

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

// AuthorizationHandle is one in-flight external authorization attempt.
type AuthorizationHandle interface {
	// Result delivers the single callback captured by the redirect target.
	// The channel is closed without a value when the attempt is cancelled.
	Result() <-chan Callback

	// Cancel abandons the attempt and releases its resources. Safe to call
	// more than once.
	Cancel()
}

// Launcher opens an external authorization surface and captures its
// callback.
type Launcher interface {
	// RedirectURI is the callback target to pin into authorization URLs.
	// Stable across Launch calls.
	RedirectURI() string

	// Launch opens authURL externally. The returned handle outlives the
	// call; cancelling ctx cancels the attempt.
	Launch(ctx context.Context, authURL string) (AuthorizationHandle, error)
}

// BrowserLauncher opens the system browser and runs a short-lived loopback
// HTTP server as the redirect target. Exactly one callback is captured per
// Launch; later hits on the same attempt get a rejection page.
type BrowserLauncher struct {
	// Port overrides DefaultCallbackPort when non-zero.
	Port int

	// OpenURL overrides how the authorization URL is opened. Defaults to
	// the platform browser.
	OpenURL func(url string) error
}

func (b *BrowserLauncher) port() int {
	if b.Port != 0 {
		return b.Port
	}
	return DefaultCallbackPort
}

// RedirectURI implements Launcher.
func (b *BrowserLauncher) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", b.port(), callbackPath)
}

// Launch implements Launcher.
func (b *BrowserLauncher) Launch(ctx context.Context, authURL string) (AuthorizationHandle, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", b.port())
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("start callback listener on %s: %w", addr, err)
	}

	h := &browserHandle{
		result:   make(chan Callback, 1),
		listener: listener,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, h.handleCallback)
	h.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Warn("OAuth", "Callback server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		h.Cancel()
	}()

	open := b.OpenURL
	if open == nil {
		open = openBrowser
	}
	if err := open(authURL); err != nil {
		h.Cancel()
		return nil, fmt.Errorf("open authorization page: %w", err)
	}

	logging.Debug("OAuth", "Opened browser, callback target %s", b.RedirectURI())
	return h, nil
}

type browserHandle struct {
	result   chan Callback
	server   *http.Server
	listener net.Listener

	captureOnce sync.Once
	cancelOnce  sync.Once
}

func (h *browserHandle) Result() <-chan Callback {
	return h.result
}

func (h *browserHandle) Cancel() {
	h.cancelOnce.Do(func() {
		// Mark the attempt captured so a late callback cannot race the
		// channel close.
		h.captureOnce.Do(func() {
			close(h.result)
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.server.Shutdown(ctx)
		_ = h.listener.Close()
	})
}

func (h *browserHandle) handleCallback(w http.ResponseWriter, r *http.Request) {
	captured := false
	h.captureOnce.Do(func() {
		captured = true
		h.processCallback(w, r)
	})
	if !captured {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (h *browserHandle) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	cb := Callback{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	var tmpl *template.Template
	var data interface{}
	if cb.IsError() {
		tmpl = template.Must(template.New("error").Parse(callbackErrorHTML))
		data = map[string]string{
			"Error":       cb.Error,
			"Description": cb.ErrorDescription,
		}
	} else {
		tmpl = template.Must(template.New("success").Parse(callbackSuccessHTML))
		data = map[string]string{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	h.result <- cb
	close(h.result)

	// Let the response flush before tearing the server down.
	go func() {
		time.Sleep(time.Second)
		h.Cancel()
	}()
}

// openBrowser opens url in the platform default browser without waiting for
// the process to exit.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}
