package kami

import (
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

type KamiResponse[T any] struct {
	StatusCode int            `json:"statusCode"`
	Success    bool           `json:"success"`
	Data       T              `json:"data"`
	Error      map[string]any `json:"error"`
}

type (
	SubnetMetagraphResponse     = KamiResponse[SubnetMetagraph]
	LatestBlockResponse         = KamiResponse[LatestBlock]
	KeyringPairInfoResponse     = KamiResponse[KeyringPairInfo]
	RevealedCommitmentsResponse = KamiResponse[map[string][]Commitment]
	ExtrinsicHashResponse       = KamiResponse[string]
)

// SubnetMetagraph holds the per-uid columns of a subnet snapshot. The uid of
// a participant is its index in Hotkeys.
type SubnetMetagraph struct {
	Netuid              int      `json:"netuid"`
	Block               int      `json:"block"`
	Tempo               int      `json:"tempo"`
	NumUids             int      `json:"numUids"`
	Hotkeys             []string `json:"hotkeys"`
	Coldkeys            []string `json:"coldkeys"`
	Active              []bool   `json:"active"`
	ValidatorPermit     []bool   `json:"validatorPermit"`
	LastUpdate          []int    `json:"lastUpdate"`
	BlockAtRegistration []int    `json:"blockAtRegistration"`
}

// UID returns the position of hotkey, or -1.
func (m *SubnetMetagraph) UID(hotkey string) int {
	for i, hk := range m.Hotkeys {
		if hk == hotkey {
			return i
		}
	}
	return -1
}

type LatestBlock struct {
	ParentHash     string `json:"parentHash"`
	BlockNumber    int    `json:"blockNumber"`
	StateRoot      string `json:"stateRoot"`
	ExtrinsicsRoot string `json:"extrinsicsRoot"`
}

type KeyringPair struct {
	Address string `json:"address"`
	Type    string `json:"type"`
}

type KeyringPairInfo struct {
	KeyringPair   KeyringPair `json:"keyringPair"`
	WalletColdkey string      `json:"walletColdkey"`
}

type SetWeightsParams struct {
	Netuid     int   `json:"netuid"`
	Dests      []int `json:"dests"`
	Weights    []int `json:"weights"`
	VersionKey int   `json:"versionKey"`
}

// Commitment is one revealed on-chain commitment.
type Commitment struct {
	Block int    `json:"block"`
	Data  string `json:"data"`
}

// UnmarshalJSON accepts {"block":..,"data":..} or the tuple form [block, data].
func (c *Commitment) UnmarshalJSON(b []byte) error {
	type obj Commitment
	var o obj
	if err := sonic.Unmarshal(b, &o); err == nil {
		*c = Commitment(o)
		return nil
	}

	var arr []any
	if err := sonic.Unmarshal(b, &arr); err != nil {
		return fmt.Errorf("invalid commitment: %w", err)
	}
	if len(arr) < 2 {
		return fmt.Errorf("commitment array must have at least 2 elements")
	}

	switch v := arr[0].(type) {
	case float64:
		c.Block = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse commitment block: %w", err)
		}
		c.Block = n
	default:
		return fmt.Errorf("expected commitment block number, got %T", arr[0])
	}

	data, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("expected commitment data string, got %T", arr[1])
	}
	c.Data = data
	return nil
}
