package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Well-known address table entries.
const (
	AccountingEngineKey = "GEB_ACCOUNTING_ENGINE"
	SafeEngineKey       = "GEB_SAFE_ENGINE"
	SafeManagerKey      = "GEB_SAFE_MANAGER"
	ProxyFactoryKey     = "PROXY_FACTORY"
)

// AddressTable maps deployment names to contract addresses.
type AddressTable struct {
	Addresses map[string]string `yaml:"addresses"`

	resolved map[string]common.Address
}

// LoadAddresses reads the YAML address table from disk and validates it.
func LoadAddresses(path string) (*AddressTable, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("address file path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open address file: %w", err)
	}
	defer file.Close()

	var table AddressTable
	if err := yaml.NewDecoder(file).Decode(&table); err != nil {
		return nil, fmt.Errorf("decode address file: %w", err)
	}
	if err := table.normalize(); err != nil {
		return nil, err
	}
	if err := table.validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// ParseAddresses decodes an address table from YAML bytes.
func ParseAddresses(data []byte) (*AddressTable, error) {
	var table AddressTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode address table: %w", err)
	}
	if err := table.normalize(); err != nil {
		return nil, err
	}
	if err := table.validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

func (t *AddressTable) normalize() error {
	t.resolved = make(map[string]common.Address, len(t.Addresses))
	for name, raw := range t.Addresses {
		key := strings.ToUpper(strings.TrimSpace(name))
		value := strings.TrimSpace(raw)
		if !common.IsHexAddress(value) {
			return fmt.Errorf("address %s: %q is not a hex address", key, raw)
		}
		t.resolved[key] = common.HexToAddress(value)
	}
	return nil
}

func (t *AddressTable) validate() error {
	if _, ok := t.resolved[AccountingEngineKey]; !ok {
		return fmt.Errorf("address table is missing %s", AccountingEngineKey)
	}
	return nil
}

// Get returns the address registered under name.
func (t *AddressTable) Get(name string) (common.Address, bool) {
	addr, ok := t.resolved[strings.ToUpper(name)]
	return addr, ok
}

// AccountingEngine returns the required accounting engine address.
func (t *AddressTable) AccountingEngine() common.Address {
	return t.resolved[AccountingEngineKey]
}

// Names lists the registered names in sorted order.
func (t *AddressTable) Names() []string {
	names := make([]string, 0, len(t.resolved))
	for name := range t.resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
