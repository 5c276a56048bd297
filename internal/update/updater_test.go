package update_test

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/Akaiko1/game-grove/internal/model"
	"github.com/Akaiko1/game-grove/internal/retry"
	"github.com/Akaiko1/game-grove/internal/update"
)

const testPlatform = "linux-x86_64"

type mockInstaller struct {
	installFunc func(ctx context.Context, artifact, downloadURL string) error
	calls       atomic.Int32
}

func (m *mockInstaller) Install(ctx context.Context, artifact, downloadURL string) error {
	m.calls.Add(1)
	if m.installFunc != nil {
		return m.installFunc(ctx, artifact, downloadURL)
	}
	return nil
}

type mockRestarter struct {
	restartFunc func(ctx context.Context) error
	calls       atomic.Int32
}

func (m *mockRestarter) Restart(ctx context.Context) error {
	m.calls.Add(1)
	if m.restartFunc != nil {
		return m.restartFunc(ctx)
	}
	return nil
}

// releaseServer serves a manifest at /latest.json and the artifact at /app.bin.
type releaseServer struct {
	*httptest.Server
	version       string
	platform      string
	artifact      []byte
	signature     string
	manifestHits  atomic.Int32
	manifestCode  int
	manifestDelay time.Duration
}

func newReleaseServer(t *testing.T, priv ed25519.PrivateKey, version string, artifact []byte) *releaseServer {
	t.Helper()
	rs := &releaseServer{
		version:   version,
		platform:  testPlatform,
		artifact:  artifact,
		signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, artifact)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/latest.json", func(w http.ResponseWriter, r *http.Request) {
		rs.manifestHits.Add(1)
		time.Sleep(rs.manifestDelay)
		if rs.manifestCode != 0 {
			w.WriteHeader(rs.manifestCode)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(manifestJSON(rs.version, rs.platform, rs.URL+"/app.bin", rs.signature))
	})
	mux.HandleFunc("/app.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(rs.artifact)))
		_, _ = w.Write(rs.artifact)
	})

	rs.Server = httptest.NewTLSServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func newTestUpdater(t *testing.T, rs *releaseServer, pub ed25519.PublicKey, inst update.Installer, rst update.Restarter) *update.Updater {
	t.Helper()
	u, err := update.New(update.Config{
		ManifestURL:     rs.URL + "/latest.json",
		CurrentVersion:  "0.1.0",
		PublicKey:       pub,
		Platform:        testPlatform,
		CheckTimeout:    5 * time.Second,
		DownloadTimeout: 5 * time.Second,
		Retry: retry.Config{
			MaxAttempts: 2,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
			Multiplier:  1,
		},
		HTTPClient: rs.Client(),
	}, inst, rst)
	gt.NoError(t, err)
	return u
}

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	gt.NoError(t, err)
	return pub, priv
}

func TestNew_RejectsInsecureManifestURL(t *testing.T) {
	pub, _ := genKey(t)
	_, err := update.New(update.Config{ManifestURL: "http://example.com/latest.json", PublicKey: pub}, nil, nil)
	gt.Error(t, err)

	_, err = update.New(update.Config{ManifestURL: "https://example.com/latest.json", PublicKey: pub[:10]}, nil, nil)
	gt.Error(t, err)
}

func TestCheck_NotNewerReturnsNil(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		platform  string
		signature string
	}{
		{name: "same version", version: "0.1.0"},
		{name: "older version", version: "0.0.9"},
		{name: "older version without this platform", version: "0.0.9", platform: "darwin-aarch64"},
		{name: "older version with malformed signature", version: "0.0.9", signature: "%%%"},
		{name: "same version without this platform", version: "0.1.0", platform: "windows-i686"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, priv := genKey(t)
			rs := newReleaseServer(t, priv, tt.version, []byte("binary"))
			if tt.platform != "" {
				rs.platform = tt.platform
			}
			if tt.signature != "" {
				rs.signature = tt.signature
			}
			u := newTestUpdater(t, rs, pub, &mockInstaller{}, &mockRestarter{})

			m, err := u.Check(context.Background())
			gt.NoError(t, err)
			gt.True(t, m == nil)
			gt.V(t, u.State()).Equal(model.UpdateNoUpdate)
		})
	}
}

func TestCheck_NewerVersionWithoutThisPlatform(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("binary"))
	rs.platform = "darwin-aarch64"
	u := newTestUpdater(t, rs, pub, &mockInstaller{}, &mockRestarter{})

	m, err := u.Check(context.Background())
	gt.True(t, errors.Is(err, model.ErrNetwork))
	gt.True(t, m == nil)
	gt.V(t, u.State()).Equal(model.UpdateIdle)
}

func TestCheck_RejectedWhileInstalling(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("build"))

	var u *update.Updater
	var checkErr error
	var stateDuringInstall model.UpdateState
	inst := &mockInstaller{
		installFunc: func(ctx context.Context, path, downloadURL string) error {
			_, checkErr = u.Check(ctx)
			stateDuringInstall = u.State()
			return nil
		},
	}
	u = newTestUpdater(t, rs, pub, inst, &mockRestarter{})

	_, err := u.Check(context.Background())
	gt.NoError(t, err)
	gt.NoError(t, u.DownloadAndInstall(context.Background(), nil))

	gt.Error(t, checkErr)
	gt.V(t, stateDuringInstall).Equal(model.UpdateInstalling)
	gt.V(t, inst.calls.Load()).Equal(int32(1))
}

func TestCheck_NoContentMeansNoUpdate(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "9.9.9", []byte("binary"))
	rs.manifestCode = http.StatusNoContent
	u := newTestUpdater(t, rs, pub, &mockInstaller{}, &mockRestarter{})

	m, err := u.Check(context.Background())
	gt.NoError(t, err)
	gt.True(t, m == nil)
}

func TestCheck_ServerErrorIsRetriedThenNetworkError(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("binary"))
	rs.manifestCode = http.StatusBadGateway
	u := newTestUpdater(t, rs, pub, &mockInstaller{}, &mockRestarter{})

	_, err := u.Check(context.Background())
	gt.True(t, errors.Is(err, model.ErrNetwork))
	gt.V(t, rs.manifestHits.Load()).Equal(int32(2))
	gt.V(t, u.State()).Equal(model.UpdateIdle)
}

func TestCheck_NotFoundIsNotRetried(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("binary"))
	rs.manifestCode = http.StatusNotFound
	u := newTestUpdater(t, rs, pub, &mockInstaller{}, &mockRestarter{})

	_, err := u.Check(context.Background())
	gt.True(t, errors.Is(err, model.ErrNetwork))
	gt.V(t, rs.manifestHits.Load()).Equal(int32(1))
}

func TestCheck_UnreachableServer(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("binary"))
	u := newTestUpdater(t, rs, pub, &mockInstaller{}, &mockRestarter{})
	rs.Close()

	_, err := u.Check(context.Background())
	gt.True(t, errors.Is(err, model.ErrNetwork))
	gt.V(t, u.State()).Equal(model.UpdateIdle)
}

func TestCheck_ConcurrentCallsShareOneFetch(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("binary"))
	rs.manifestDelay = 100 * time.Millisecond
	u := newTestUpdater(t, rs, pub, &mockInstaller{}, &mockRestarter{})

	var wg sync.WaitGroup
	versions := make([]string, 5)
	errs := make([]error, 5)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := u.Check(context.Background())
			errs[i] = err
			if m != nil {
				versions[i] = m.Version
			}
		}()
	}
	wg.Wait()

	for i := range 5 {
		gt.NoError(t, errs[i])
		gt.V(t, versions[i]).Equal("0.2.0")
	}
	gt.V(t, rs.manifestHits.Load()).Equal(int32(1))
}

func TestDownloadAndInstall_RequiresAvailableUpdate(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.1.0", []byte("binary"))
	inst := &mockInstaller{}
	u := newTestUpdater(t, rs, pub, inst, &mockRestarter{})

	progress := make(chan model.Progress)
	err := u.DownloadAndInstall(context.Background(), progress)
	gt.True(t, errors.Is(err, model.ErrNoUpdateAvailable))
	_, open := <-progress
	gt.False(t, open)

	_, err = u.Check(context.Background())
	gt.NoError(t, err)
	err = u.DownloadAndInstall(context.Background(), nil)
	gt.True(t, errors.Is(err, model.ErrNoUpdateAvailable))
	gt.V(t, inst.calls.Load()).Equal(int32(0))
}

func TestDownloadAndInstall_TamperedArtifactIsNeverInstalled(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("original build"))
	rs.artifact = []byte("tampered build")
	inst := &mockInstaller{}
	rst := &mockRestarter{}
	u := newTestUpdater(t, rs, pub, inst, rst)

	var mu sync.Mutex
	var states []model.UpdateState
	u.OnStateChange(func(s model.UpdateState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	m, err := u.Check(context.Background())
	gt.NoError(t, err)
	gt.V(t, m.Version).Equal("0.2.0")

	err = u.DownloadAndInstall(context.Background(), nil)
	gt.True(t, errors.Is(err, model.ErrSignatureVerificationFailed))
	gt.V(t, inst.calls.Load()).Equal(int32(0))
	gt.V(t, rst.calls.Load()).Equal(int32(0))
	gt.V(t, u.State()).Equal(model.UpdateIdle)

	mu.Lock()
	defer mu.Unlock()
	gt.V(t, states).Equal([]model.UpdateState{
		model.UpdateChecking,
		model.UpdateAvailable,
		model.UpdateDownloading,
		model.UpdateVerifying,
		model.UpdateFailed,
		model.UpdateIdle,
	})
}

func TestDownloadAndInstall_WrongKeyIsRejected(t *testing.T) {
	_, priv := genKey(t)
	otherPub, _ := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("build"))
	inst := &mockInstaller{}
	u := newTestUpdater(t, rs, otherPub, inst, &mockRestarter{})

	_, err := u.Check(context.Background())
	gt.NoError(t, err)
	err = u.DownloadAndInstall(context.Background(), nil)
	gt.True(t, errors.Is(err, model.ErrSignatureVerificationFailed))
	gt.V(t, inst.calls.Load()).Equal(int32(0))
}

func TestDownloadAndInstall_VerifiedArtifactIsInstalledAndRestarted(t *testing.T) {
	pub, priv := genKey(t)
	artifact := []byte("new build contents")
	rs := newReleaseServer(t, priv, "0.2.0", artifact)

	var installedURL string
	inst := &mockInstaller{
		installFunc: func(ctx context.Context, path, downloadURL string) error {
			installedURL = downloadURL
			return nil
		},
	}
	rst := &mockRestarter{}
	u := newTestUpdater(t, rs, pub, inst, rst)

	_, err := u.Check(context.Background())
	gt.NoError(t, err)

	// Nobody reads progress; the download must still complete.
	progress := make(chan model.Progress)
	gt.NoError(t, u.DownloadAndInstall(context.Background(), progress))

	_, open := <-progress
	gt.False(t, open)
	gt.V(t, inst.calls.Load()).Equal(int32(1))
	gt.V(t, rst.calls.Load()).Equal(int32(1))
	gt.V(t, installedURL).Equal(rs.URL + "/app.bin")
	gt.V(t, u.State()).Equal(model.UpdateRestarting)
}

func TestDownloadAndInstall_ReportsProgress(t *testing.T) {
	pub, priv := genKey(t)
	artifact := make([]byte, 256*1024)
	rs := newReleaseServer(t, priv, "0.2.0", artifact)
	u := newTestUpdater(t, rs, pub, &mockInstaller{}, &mockRestarter{})

	_, err := u.Check(context.Background())
	gt.NoError(t, err)

	progress := make(chan model.Progress, 1024)
	gt.NoError(t, u.DownloadAndInstall(context.Background(), progress))

	var last model.Progress
	for p := range progress {
		gt.True(t, p.Downloaded >= last.Downloaded)
		last = p
	}
	gt.V(t, last.Downloaded).Equal(int64(len(artifact)))
	gt.V(t, last.Total).Equal(int64(len(artifact)))
}

func TestDownloadAndInstall_InstallFailureReturnsToIdle(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("build"))
	inst := &mockInstaller{
		installFunc: func(ctx context.Context, path, downloadURL string) error {
			return errors.New("read-only filesystem")
		},
	}
	rst := &mockRestarter{}
	u := newTestUpdater(t, rs, pub, inst, rst)

	_, err := u.Check(context.Background())
	gt.NoError(t, err)
	err = u.DownloadAndInstall(context.Background(), nil)
	gt.True(t, errors.Is(err, model.ErrStorage))
	gt.V(t, rst.calls.Load()).Equal(int32(0))
	gt.V(t, u.State()).Equal(model.UpdateIdle)
}

func TestCheck_TamperedSignatureInManifest(t *testing.T) {
	pub, priv := genKey(t)
	rs := newReleaseServer(t, priv, "0.2.0", []byte("build"))
	rs.signature = "dGFtcGVyZWQ="
	inst := &mockInstaller{}
	u := newTestUpdater(t, rs, pub, inst, &mockRestarter{})

	m, err := u.Check(context.Background())
	gt.True(t, errors.Is(err, model.ErrSignatureVerificationFailed))
	gt.True(t, m == nil)
	gt.V(t, u.State()).Equal(model.UpdateIdle)

	err = u.DownloadAndInstall(context.Background(), nil)
	gt.True(t, errors.Is(err, model.ErrNoUpdateAvailable))
	gt.V(t, inst.calls.Load()).Equal(int32(0))
}
