// Package config holds the node's static configuration: the Bitcoin network
// it tracks, where it stores data, which peers and RPC endpoints it talks
// to, and the knobs for the checker pool and indexer polling loop.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the full set of static settings a yuv-node process is launched
// with, loaded from a file or flags by cmd/yuv-node.
type Config struct {
	Network  string   `json:"network"`
	DataDir  string   `json:"data_dir"`
	BindAddr string   `json:"bind_addr"`
	LogLevel string   `json:"log_level"`
	Peers    []string `json:"peers"`
	MaxPeers int      `json:"max_peers"`

	// BitcoinRPC is the upstream full node this process indexes from.
	BitcoinRPC BitcoinRPCConfig `json:"bitcoin_rpc"`

	// CheckerPoolSize bounds the number of concurrent isolated-checker
	// verifications (spec §4.2 "checkers.pool_size").
	CheckerPoolSize int `json:"checker_pool_size"`

	// IndexerPollingPeriod is how often the indexer polls bitcoind for
	// new blocks when it is caught up to the tip.
	IndexerPollingPeriod time.Duration `json:"indexer_polling_period"`

	// IndexStepBack is how many blocks the block indexer rewinds its
	// starting cursor (the stored one, or the genesis block on a first
	// start) before scanning forward, so that blocks an unclean shutdown may
	// have left half-indexed are indexed again.
	IndexStepBack uint32 `json:"index_step_back"`

	// AttacherCleanupPeriod and AttacherTxOutdated govern the attacher's
	// periodic eviction of stalled, parent-starved transactions.
	AttacherCleanupPeriod time.Duration `json:"attacher_cleanup_period"`
	AttacherTxOutdated    time.Duration `json:"attacher_tx_outdated"`

	// RPCServerAddr is the bind address for the JSON-RPC surface (§6).
	RPCServerAddr string `json:"rpc_server_addr"`

	// RPCPageSize is the most transactions one getlistrawyuvtransactions
	// call returns.
	RPCPageSize int `json:"rpc_page_size"`
}

// BitcoinRPCConfig is how the node reaches its upstream Bitcoin full node.
type BitcoinRPCConfig struct {
	Host     string `json:"host"`
	User     string `json:"user"`
	Pass     string `json:"pass"`
	UseTLS   bool   `json:"use_tls"`
	CertPath string `json:"cert_path"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// DefaultDataDir mirrors the home-directory fallback the node always used,
// renamed to the new project's dotfile.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".yuv"
	}
	return filepath.Join(home, ".yuv")
}

// DefaultConfig returns the settings a bare `yuv-node` launches with absent
// any file or flags.
func DefaultConfig() Config {
	return Config{
		Network:               "regtest",
		DataDir:               DefaultDataDir(),
		BindAddr:              "0.0.0.0:8765",
		Peers:                 nil,
		LogLevel:              "info",
		MaxPeers:              64,
		BitcoinRPC:            BitcoinRPCConfig{Host: "127.0.0.1:18443"},
		CheckerPoolSize:       4,
		IndexerPollingPeriod:  5 * time.Second,
		IndexStepBack:         10,
		AttacherCleanupPeriod: time.Hour,
		AttacherTxOutdated:    24 * time.Hour,
		RPCServerAddr:         "127.0.0.1:8766",
		RPCPageSize:           100,
	}
}

// NormalizePeers dedups and flattens comma-joined peer-address tokens the
// way repeated --peer flags or a peers= config line would arrive.
func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// ValidateConfig checks that cfg is internally consistent and safe to run
// with, returning the first problem found.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 {
		return errors.New("max_peers must be > 0")
	}
	if cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be <= 4096")
	}
	if strings.TrimSpace(cfg.BitcoinRPC.Host) == "" {
		return errors.New("bitcoin_rpc.host is required")
	}
	if cfg.CheckerPoolSize <= 0 {
		return errors.New("checker_pool_size must be > 0")
	}
	if cfg.IndexerPollingPeriod <= 0 {
		return errors.New("indexer_polling_period must be > 0")
	}
	if cfg.AttacherTxOutdated <= cfg.AttacherCleanupPeriod {
		return errors.New("attacher_tx_outdated must exceed attacher_cleanup_period")
	}
	if err := validateAddr(cfg.RPCServerAddr); err != nil {
		return fmt.Errorf("invalid rpc_server_addr: %w", err)
	}
	if cfg.RPCPageSize <= 0 {
		return errors.New("rpc_page_size must be > 0")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}
