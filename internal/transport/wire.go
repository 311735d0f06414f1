package transport

import (
	"encoding/json"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

type wireMessage struct {
	Origin string `json:"origin"`
	Data   []byte `json:"data"`
}

func encodeWire(d Delta) ([]byte, error) {
	return json.Marshal(wireMessage{Origin: d.Origin, Data: d.Data})
}

func decodeWire(raw []byte) (Delta, error) {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Delta{}, err
	}
	return Delta{Origin: wire.Origin, Data: wire.Data}, nil
}

func peerAddrInfo(addr multiaddr.Multiaddr) (peer.AddrInfo, error) {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid peer multiaddr: %w", err)
	}
	return *info, nil
}
