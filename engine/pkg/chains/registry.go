package chains

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
)

// Wormhole-standard chain ids for the networks the bridge supports.
const (
	ChainIDSolana    uint16 = 1
	ChainIDEthereum  uint16 = 2
	ChainIDBSC       uint16 = 4
	ChainIDPolygon   uint16 = 5
	ChainIDAvalanche uint16 = 6
	ChainIDArbitrum  uint16 = 23
	ChainIDOptimism  uint16 = 24
	ChainIDBase      uint16 = 30
)

var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrInvalidAddress   = errors.New("invalid address for chain")
)

// Config describes a single supported network. Immutable after registry
// construction.
type Config struct {
	ChainID        uint16
	Name           string
	NativeSymbol   string
	FeeBasisPoints int64
	// EVM chains use 0x-prefixed 20-byte hex addresses; Solana uses base58
	// 32-byte public keys.
	EVM bool
}

// Registry is a static lookup table of supported networks. Read-only after
// New, safe for concurrent use.
type Registry struct {
	byID map[uint16]Config
}

// DefaultConfigs returns the built-in network table. The default bridge fee is
// 50 basis points on every destination.
func DefaultConfigs() []Config {
	return []Config{
		{ChainID: ChainIDSolana, Name: "Solana", NativeSymbol: "SOL", FeeBasisPoints: 50},
		{ChainID: ChainIDEthereum, Name: "Ethereum", NativeSymbol: "ETH", FeeBasisPoints: 50, EVM: true},
		{ChainID: ChainIDBSC, Name: "BNB Smart Chain", NativeSymbol: "BNB", FeeBasisPoints: 50, EVM: true},
		{ChainID: ChainIDPolygon, Name: "Polygon", NativeSymbol: "MATIC", FeeBasisPoints: 50, EVM: true},
		{ChainID: ChainIDAvalanche, Name: "Avalanche", NativeSymbol: "AVAX", FeeBasisPoints: 50, EVM: true},
		{ChainID: ChainIDArbitrum, Name: "Arbitrum", NativeSymbol: "ETH", FeeBasisPoints: 50, EVM: true},
		{ChainID: ChainIDOptimism, Name: "Optimism", NativeSymbol: "ETH", FeeBasisPoints: 50, EVM: true},
		{ChainID: ChainIDBase, Name: "Base", NativeSymbol: "ETH", FeeBasisPoints: 50, EVM: true},
	}
}

// New builds a registry from the given configs. Chain ids must be unique.
func New(configs []Config) (*Registry, error) {
	byID := make(map[uint16]Config, len(configs))
	for _, c := range configs {
		if c.ChainID == 0 {
			return nil, fmt.Errorf("chain %q: chain id is required", c.Name)
		}
		if c.Name == "" {
			return nil, fmt.Errorf("chain %d: name is required", c.ChainID)
		}
		if c.FeeBasisPoints < 0 {
			return nil, fmt.Errorf("chain %d: fee basis points must not be negative", c.ChainID)
		}
		if _, ok := byID[c.ChainID]; ok {
			return nil, fmt.Errorf("chain %d: duplicate chain id", c.ChainID)
		}
		byID[c.ChainID] = c
	}
	return &Registry{byID: byID}, nil
}

// Resolve returns the config for the given chain id.
func (r *Registry) Resolve(chainID uint16) (Config, error) {
	c, ok := r.byID[chainID]
	if !ok {
		return Config{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return c, nil
}

var evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateAddress checks that addr has the right shape for the given chain.
// It does not prove the account exists on that chain.
func (r *Registry) ValidateAddress(chainID uint16, addr string) error {
	c, err := r.Resolve(chainID)
	if err != nil {
		return err
	}
	if c.EVM {
		if !evmAddressRe.MatchString(addr) {
			return fmt.Errorf("%w: %q is not a valid %s address", ErrInvalidAddress, addr, c.Name)
		}
		return nil
	}
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("%w: %q is not a valid %s address", ErrInvalidAddress, addr, c.Name)
	}
	return nil
}
