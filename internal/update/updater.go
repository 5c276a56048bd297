// Package update checks for, verifies and installs signed application updates.
//
// State machine:
//
//	Idle → Checking → {NoUpdate | Available} → Downloading → Verifying → {Ready → Installing → Restarting | Failed}
//
// Network and signature failures return to Idle. Nothing is installed unless the artifact's
// Ed25519 signature matches the bundled public key.
package update

import (
	"context"
	"crypto/ed25519"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Akaiko1/game-grove/internal/logging"
	"github.com/Akaiko1/game-grove/internal/model"
	"github.com/Akaiko1/game-grove/internal/retry"
)

// Config holds updater configuration.
type Config struct {
	ManifestURL     string
	CurrentVersion  string
	PublicKey       ed25519.PublicKey
	Platform        string // Defaults to PlatformKey(runtime.GOOS, runtime.GOARCH)
	CheckTimeout    time.Duration
	DownloadTimeout time.Duration
	Retry           retry.Config
	HTTPClient      *http.Client
}

// Updater runs the update state machine. It is safe for concurrent use.
type Updater struct {
	cfg       Config
	installer Installer
	restarter Restarter
	checks    singleflight.Group

	mu        sync.Mutex
	state     model.UpdateState
	pending   *model.UpdateManifest
	listeners []func(model.UpdateState)
}

// New creates an Updater. The manifest endpoint must use https.
func New(cfg Config, installer Installer, restarter Restarter) (*Updater, error) {
	u, err := url.Parse(cfg.ManifestURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, goerr.New("manifest url must be https", goerr.V("url", cfg.ManifestURL))
	}
	if len(cfg.PublicKey) != ed25519.PublicKeySize {
		return nil, goerr.New("invalid update public key", goerr.V("size", len(cfg.PublicKey)))
	}
	if cfg.Platform == "" {
		cfg.Platform = PlatformKey(runtime.GOOS, runtime.GOARCH)
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 15 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 10 * time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}

	return &Updater{
		cfg:       cfg,
		installer: installer,
		restarter: restarter,
		state:     model.UpdateIdle,
	}, nil
}

// State returns the current state.
func (u *Updater) State() model.UpdateState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// OnStateChange registers fn to be called on every transition.
func (u *Updater) OnStateChange(fn func(model.UpdateState)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listeners = append(u.listeners, fn)
}

func (u *Updater) setState(s model.UpdateState) {
	u.mu.Lock()
	u.state = s
	listeners := u.listeners
	u.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// fail reports Failed and settles back in Idle, dropping any pending manifest.
func (u *Updater) fail() {
	u.mu.Lock()
	u.pending = nil
	u.mu.Unlock()

	u.setState(model.UpdateFailed)
	u.setState(model.UpdateIdle)
}

func busy(s model.UpdateState) bool {
	switch s {
	case model.UpdateDownloading, model.UpdateVerifying, model.UpdateReady, model.UpdateInstalling, model.UpdateRestarting:
		return true
	}
	return false
}

// Check fetches the manifest. It returns nil without error when no newer build exists.
// Concurrent calls share one fetch.
func (u *Updater) Check(ctx context.Context) (*model.UpdateManifest, error) {
	v, err, _ := u.checks.Do("check", func() (any, error) {
		return u.check(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.UpdateManifest), nil
}

func (u *Updater) check(ctx context.Context) (*model.UpdateManifest, error) {
	logger := logging.From(ctx)

	u.mu.Lock()
	if busy(u.state) {
		state := u.state
		u.mu.Unlock()
		return nil, goerr.New("update already in progress", goerr.V("state", state.String()))
	}
	u.state = model.UpdateChecking
	listeners := u.listeners
	u.mu.Unlock()
	for _, fn := range listeners {
		fn(model.UpdateChecking)
	}

	raw, err := u.fetchManifest(ctx)
	if err != nil {
		u.setState(model.UpdateIdle)
		logger.Warn("Update check failed", "url", u.cfg.ManifestURL, "error", err)
		return nil, goerr.Wrap(model.ErrNetwork, "failed to fetch update manifest",
			goerr.V("url", u.cfg.ManifestURL), goerr.V("cause", err.Error()))
	}
	if raw == nil {
		u.setState(model.UpdateNoUpdate)
		return nil, nil
	}

	doc, err := decodeManifest(raw)
	if err != nil {
		u.setState(model.UpdateIdle)
		logger.Warn("Rejected update manifest", "error", err)
		return nil, err
	}

	// Platform entries of a build that is not newer are irrelevant.
	if !isNewer(u.cfg.CurrentVersion, doc.Version) {
		u.setState(model.UpdateNoUpdate)
		logger.Info("Application is up to date", "current", u.cfg.CurrentVersion, "latest", doc.Version)
		return nil, nil
	}

	m, err := doc.resolve(u.cfg.Platform)
	if err != nil {
		u.setState(model.UpdateIdle)
		logger.Warn("Rejected update manifest", "error", err)
		return nil, err
	}

	u.mu.Lock()
	u.pending = m
	u.mu.Unlock()
	u.setState(model.UpdateAvailable)

	logger.Info("Update available", "current", u.cfg.CurrentVersion, "latest", m.Version)
	return m, nil
}

// fetchManifest returns the manifest body, or nil when the server answers 204 No Content.
func (u *Updater) fetchManifest(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.CheckTimeout)
	defer cancel()

	return retry.Do(ctx, u.cfg.Retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.ManifestURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := u.cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNoContent:
			return nil, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, retry.Retryable(goerr.New("manifest endpoint unavailable", goerr.V("status", resp.StatusCode)))
		case resp.StatusCode != http.StatusOK:
			return nil, goerr.New("unexpected manifest status", goerr.V("status", resp.StatusCode))
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, retry.Retryable(err)
		}
		return raw, nil
	})
}

// DownloadAndInstall downloads, verifies and installs the update found by the last Check, then
// restarts the application. Calling it is the user's confirmation; it fails with
// model.ErrNoUpdateAvailable unless the state is Available.
//
// When progress is non-nil it receives download progress and is closed when the download ends.
// Sends never block, so a slow reader only misses intermediate values.
func (u *Updater) DownloadAndInstall(ctx context.Context, progress chan<- model.Progress) error {
	logger := logging.From(ctx)

	u.mu.Lock()
	m := u.pending
	if u.state != model.UpdateAvailable || m == nil {
		state := u.state
		u.mu.Unlock()
		if progress != nil {
			close(progress)
		}
		return goerr.Wrap(model.ErrNoUpdateAvailable, "no confirmed update to install", goerr.V("state", state.String()))
	}
	u.state = model.UpdateDownloading
	listeners := u.listeners
	u.mu.Unlock()
	for _, fn := range listeners {
		fn(model.UpdateDownloading)
	}

	artifact, err := u.download(ctx, m.DownloadURL, progress)
	if err != nil {
		u.fail()
		logger.Warn("Update download failed", "url", m.DownloadURL, "error", err)
		return goerr.Wrap(model.ErrNetwork, "failed to download update",
			goerr.V("url", m.DownloadURL), goerr.V("cause", err.Error()))
	}
	defer func() {
		_ = os.Remove(artifact)
	}()

	u.setState(model.UpdateVerifying)
	if err := u.verify(artifact, m.Signature); err != nil {
		u.fail()
		logger.Error("Update signature rejected", "version", m.Version, "error", err)
		return err
	}
	u.setState(model.UpdateReady)

	u.setState(model.UpdateInstalling)
	if err := u.installer.Install(ctx, artifact, m.DownloadURL); err != nil {
		u.fail()
		logger.Error("Update install failed", "version", m.Version, "error", err)
		return goerr.Wrap(model.ErrStorage, "failed to install update",
			goerr.V("version", m.Version), goerr.V("cause", err.Error()))
	}

	u.setState(model.UpdateRestarting)
	if err := u.restarter.Restart(ctx); err != nil {
		// The new version is installed and will run on the next manual start.
		u.mu.Lock()
		u.pending = nil
		u.mu.Unlock()
		u.setState(model.UpdateIdle)
		return goerr.Wrap(err, "update installed but restart failed", goerr.V("version", m.Version))
	}
	return nil
}

func (u *Updater) verify(artifact string, sig []byte) error {
	data, err := os.ReadFile(artifact)
	if err != nil {
		return goerr.Wrap(model.ErrStorage, "failed to read downloaded update", goerr.V("cause", err.Error()))
	}
	if !ed25519.Verify(u.cfg.PublicKey, data, sig) {
		return goerr.Wrap(model.ErrSignatureVerificationFailed, "update signature does not match", goerr.V("size", len(data)))
	}
	return nil
}

type progressWriter struct {
	ch         chan<- model.Progress
	downloaded int64
	total      int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.downloaded += int64(len(p))
	if w.ch != nil {
		select {
		case w.ch <- model.Progress{Downloaded: w.downloaded, Total: w.total}:
		default:
		}
	}
	return len(p), nil
}

func (u *Updater) download(ctx context.Context, downloadURL string, progress chan<- model.Progress) (string, error) {
	if progress != nil {
		defer close(progress)
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := u.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", goerr.New("unexpected download status", goerr.V("status", resp.StatusCode))
	}

	tmp, err := os.CreateTemp("", "game-grove-update-*")
	if err != nil {
		return "", err
	}

	pw := &progressWriter{ch: progress, total: resp.ContentLength}
	if _, err := io.Copy(tmp, io.TeeReader(resp.Body, pw)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
