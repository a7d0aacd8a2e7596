package kami

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tensorplex-labs/affine/internal/config"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Kami) {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	kc := &config.KamiEnvConfig{
		KamiHost: ts.Listener.Addr().(*net.TCPAddr).IP.String(),
		KamiPort: fmt.Sprint(ts.Listener.Addr().(*net.TCPAddr).Port),
	}
	k, err := NewKami(kc)
	if err != nil {
		t.Fatalf("new kami: %v", err)
	}
	if k.BaseURL != ts.URL {
		t.Fatalf("base url = %q, want %q", k.BaseURL, ts.URL)
	}
	return ts, k
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func TestNewKami_NilConfig(t *testing.T) {
	_, err := NewKami(nil)
	if err == nil {
		t.Fatalf("expected error when cfg is nil")
	}
}

func TestCurrentBlock_Success(t *testing.T) {
	_, k := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chain/latest-block" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, `{"statusCode":200,"success":true,"data":{"parentHash":"0x1","blockNumber":4242,"stateRoot":"0x2","extrinsicsRoot":"0x3"},"error":null}`)
	})

	block, err := k.CurrentBlock(context.Background())
	if err != nil {
		t.Fatalf("CurrentBlock error: %v", err)
	}
	if block != 4242 {
		t.Fatalf("block = %d, want 4242", block)
	}
}

func TestGetMetagraph_Success(t *testing.T) {
	_, k := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chain/subnet-metagraph/120" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, `{"statusCode":200,"success":true,"data":{"netuid":120,"block":99,"hotkeys":["hk0","hk1"],"lastUpdate":[10,20]},"error":null}`)
	})

	mg, err := k.GetMetagraph(context.Background(), 120)
	if err != nil {
		t.Fatalf("GetMetagraph error: %v", err)
	}
	if mg.Netuid != 120 || len(mg.Hotkeys) != 2 {
		t.Fatalf("unexpected metagraph: %+v", mg)
	}
	if mg.UID("hk1") != 1 || mg.UID("missing") != -1 {
		t.Fatalf("unexpected uid lookup")
	}
	if mg.LastUpdate[1] != 20 {
		t.Fatalf("last update = %d, want 20", mg.LastUpdate[1])
	}
}

func TestGetRevealedCommitments_BothForms(t *testing.T) {
	_, k := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chain/revealed-commitments/7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, `{"statusCode":200,"success":true,"data":{
			"hkA":[{"block":5,"data":"{\"model\":\"a/affine-1\"}"}],
			"hkB":[[3,"old"],["8","new"]]
		},"error":null}`)
	})

	commits, err := k.GetRevealedCommitments(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetRevealedCommitments error: %v", err)
	}
	if got := commits["hkA"]; len(got) != 1 || got[0].Block != 5 || !strings.Contains(got[0].Data, "affine-1") {
		t.Fatalf("unexpected object form: %+v", got)
	}
	got := commits["hkB"]
	if len(got) != 2 || got[0].Block != 3 || got[1].Block != 8 || got[1].Data != "new" {
		t.Fatalf("unexpected tuple form: %+v", got)
	}
}

func TestCommitment_InvalidTuple(t *testing.T) {
	var c Commitment
	if err := c.UnmarshalJSON([]byte(`[1]`)); err == nil {
		t.Fatalf("expected error for short tuple")
	}
	if err := c.UnmarshalJSON([]byte(`[1, 2]`)); err == nil {
		t.Fatalf("expected error for non-string data")
	}
}

func TestSetWeights_Success(t *testing.T) {
	var body string
	_, k := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chain/set-weights" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		writeJSON(w, `{"statusCode":200,"success":true,"data":"0xhash","error":null}`)
	})

	hash, err := k.SetWeights(context.Background(), SetWeightsParams{Netuid: 120, Dests: []int{3}, Weights: []int{65535}})
	if err != nil {
		t.Fatalf("SetWeights error: %v", err)
	}
	if hash != "0xhash" {
		t.Fatalf("hash = %q", hash)
	}
	if !strings.Contains(body, `"dests":[3]`) || !strings.Contains(body, `"weights":[65535]`) {
		t.Fatalf("unexpected request body: %s", body)
	}
}

func TestGetJSON_HTTPError(t *testing.T) {
	_, k := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad"))
	})
	if _, err := k.CurrentBlock(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPostJSON_ResponseErrorField(t *testing.T) {
	_, k := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"statusCode":200,"success":false,"data":"","error":{"msg":"boom"}}`)
	})
	if _, err := k.SetWeights(context.Background(), SetWeightsParams{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGetKeyringPair_Success(t *testing.T) {
	_, k := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/substrate/keyring-pair-info" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, `{"statusCode":200,"success":true,"data":{"keyringPair":{"address":"5abc","type":"sr25519"},"walletColdkey":"5cold"},"error":null}`)
	})

	info, err := k.GetKeyringPair(context.Background())
	if err != nil {
		t.Fatalf("GetKeyringPair error: %v", err)
	}
	if info.KeyringPair.Address != "5abc" || info.WalletColdkey != "5cold" {
		t.Fatalf("unexpected keyring: %+v", info)
	}
}
