package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/internal/infrastructure/persistence/memory"
	httpserver "github.com/basecamp-labs/progress-hub/internal/interface/http"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

const (
	testWallet   = "0x52908400098527886E0F7030069857D2E4169EE7"
	chainSepolia = "0x14a34"
	chainMainnet = "0x1"
)

// fakeWallet answers the handful of JSON-RPC calls the engine makes.
type fakeWallet struct {
	mu      sync.Mutex
	chainID string
}

func (f *fakeWallet) setChain(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainID = id
}

func (f *fakeWallet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	f.mu.Lock()
	switch req.Method {
	case "eth_requestAccounts", "eth_accounts":
		resp["result"] = []string{testWallet}
	case "eth_chainId":
		resp["result"] = f.chainID
	case "wallet_switchEthereumChain":
		f.chainID = chainSepolia
		resp["result"] = nil
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type harness struct {
	configPath string
	wallet     *fakeWallet
	store      *memory.ProgressStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		wallet: &fakeWallet{chainID: chainSepolia},
		store:  memory.NewProgressStore(progress.DefaultCatalog),
	}

	walletSrv := httptest.NewServer(h.wallet)
	t.Cleanup(walletSrv.Close)

	cfg := httpserver.DefaultConfig()
	cfg.RateLimitPerMinute = 0
	backendSrv := httptest.NewServer(httpserver.NewServer(cfg, httpserver.Dependencies{
		Store:  h.store,
		Logger: logger.Discard(),
	}).Handler())
	t.Cleanup(backendSrv.Close)

	dir := t.TempDir()
	h.configPath = filepath.Join(dir, "progress.yaml")
	yaml := "" +
		"observability:\n  log_level: error\n" +
		"local:\n  backend: sqlite\n  path: " + filepath.Join(dir, "local.db") + "\n" +
		"wallet:\n  rpc_url: " + walletSrv.URL + "\n  checker_url: \"\"\n" +
		"backend:\n  url: " + backendSrv.URL + "\n  max_attempts: 1\n"
	require.NoError(t, os.WriteFile(h.configPath, []byte(yaml), 0o600))
	return h
}

func (h *harness) run(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", h.configPath}, args...))
	require.NoError(t, cmd.Execute(), errOut.String())
	return out.String()
}

func (h *harness) remoteFlags(t *testing.T) map[progress.ModuleName]bool {
	t.Helper()
	remote, err := h.store.Progress(context.Background(), progress.Identity(testWallet))
	require.NoError(t, err)
	return remote.Flags
}

func TestStatus_RegistersAndReportsSupported(t *testing.T) {
	h := newHarness(t)

	out := h.run(t, "status", "--json")

	var page struct {
		Identity    string         `json:"identity"`
		Verdict     string         `json:"verdict"`
		Percentages map[string]int `json:"percentages"`
		Notices     []struct {
			Kind string `json:"kind"`
		} `json:"notices"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, testWallet, page.Identity)
	assert.Equal(t, "supported", page.Verdict)
	assert.Equal(t, 0, page.Percentages["practice"])
	require.NotEmpty(t, page.Notices)
	assert.Equal(t, "welcome", page.Notices[0].Kind)

	assert.Len(t, h.remoteFlags(t), len(progress.DefaultCatalog.Modules()))
}

func TestComplete_WritesRemotely(t *testing.T) {
	h := newHarness(t)

	out := h.run(t, "complete", "lab1")
	assert.Contains(t, out, "lab1 completed")
	assert.Contains(t, out, "security   20%")
	assert.True(t, h.remoteFlags(t)[progress.ModuleLab1])

	out = h.run(t, "status")
	assert.Contains(t, out, "security")
	assert.Contains(t, out, " 20%")
}

func TestComplete_RejectsUnknownModule(t *testing.T) {
	h := newHarness(t)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", h.configPath, "complete", "quiz9"})
	assert.Error(t, cmd.Execute())
}

func TestStatus_UnsupportedNetworkGrantsPractice(t *testing.T) {
	h := newHarness(t)
	h.wallet.setChain(chainMainnet)

	out := h.run(t, "status")
	assert.Contains(t, out, "unsupported")
	assert.Contains(t, out, "practice labs were credited")

	flags := h.remoteFlags(t)
	for _, m := range []progress.ModuleName{
		progress.ModuleFaucet, progress.ModuleSend, progress.ModuleReceive,
		progress.ModuleMint, progress.ModuleLaunch,
	} {
		assert.True(t, flags[m], m)
	}
	assert.False(t, flags[progress.ModuleLab1])

	// The grant happens once per wallet.
	out = h.run(t, "status")
	assert.NotContains(t, out, "practice labs were credited")
	assert.Contains(t, out, "100%")
}

func TestSwitchNetwork(t *testing.T) {
	h := newHarness(t)
	h.wallet.setChain(chainMainnet)

	out := h.run(t, "switch-network", "--json")

	var page struct {
		Verdict string `json:"verdict"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, "supported", page.Verdict)
}

func TestForget_ClearsLocalState(t *testing.T) {
	h := newHarness(t)
	h.run(t, "status")

	out := h.run(t, "state")
	assert.Contains(t, out, "identity")
	assert.Contains(t, out, "progress_snapshot:"+testWallet)

	out = h.run(t, "forget")
	assert.Equal(t, "forgot "+testWallet+"\n", out)

	out = h.run(t, "state", "--json")
	var state struct {
		Keys []string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Empty(t, state.Keys)
}

func TestModules(t *testing.T) {
	out := newHarness(t).run(t, "modules")
	assert.Contains(t, out, "practice: faucet send receive mint launch")
	assert.Contains(t, out, "theory: theory1 theory2 theory3 theory4 theory5")
}
