// Package artifacts loads compiled contract artifacts (ABI + bytecode) produced by
// truffle, hardhat or foundry.
package artifacts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Contract names used by the migration workflow.
const (
	MigrationsName = "Migrations"
	TestTokenName  = "TestToken"
)

//go:embed abi/*.json
var abiFS embed.FS

var (
	ErrEmptyBytecode    = errors.New("artifacts: empty bytecode")
	ErrUnlinkedBytecode = errors.New("artifacts: bytecode contains unlinked library placeholders")
	ErrEmptyABI         = errors.New("artifacts: empty ABI")
)

// ContractArtifact represents a compiled Solidity contract with ABI and bytecode.
type ContractArtifact struct {
	ContractName     string                     `json:"contractName,omitempty"`
	ABI              json.RawMessage            `json:"abi"`
	Bytecode         Bytecode                   `json:"bytecode"`
	DeployedBytecode Bytecode                   `json:"deployedBytecode,omitempty"`
	Networks         map[string]NetworkDeployed `json:"networks,omitempty"`
}

// NetworkDeployed is the per-network deployment entry truffle keeps in an artifact.
type NetworkDeployed struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// Bytecode contains the contract bytecode.
// It handles both formats:
// - Simple string: "0x608060..."
// - Object with "object" field: {"object": "0x608060..."}
type Bytecode struct {
	hex string
}

// NewBytecode wraps a hex string.
func NewBytecode(hex string) Bytecode {
	return Bytecode{hex: hex}
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// MarshalJSON marshals the bytecode as a string.
func (b Bytecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.hex)
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// Bytes decodes the bytecode.
func (b Bytecode) Bytes() ([]byte, error) {
	code := strings.TrimSpace(b.hex)
	if code == "" || code == "0x" {
		return nil, ErrEmptyBytecode
	}
	if strings.Contains(code, "__") {
		return nil, ErrUnlinkedBytecode
	}
	if !strings.HasPrefix(code, "0x") {
		code = "0x" + code
	}
	return hexutil.Decode(code)
}

// ParsedABI parses the artifact ABI.
func (a *ContractArtifact) ParsedABI() (abi.ABI, error) {
	if len(bytes.TrimSpace(a.ABI)) == 0 {
		return abi.ABI{}, ErrEmptyABI
	}
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse %s ABI: %w", a.ContractName, err)
	}
	return parsed, nil
}

// CreationData returns the bytecode followed by the ABI-encoded constructor arguments.
func (a *ContractArtifact) CreationData(args ...any) ([]byte, error) {
	code, err := a.Bytecode.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.ContractName, err)
	}
	if len(args) == 0 {
		return code, nil
	}

	parsed, err := a.ParsedABI()
	if err != nil {
		return nil, err
	}
	packed, err := parsed.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s constructor args: %w", a.ContractName, err)
	}
	return append(code, packed...), nil
}

// Load reads a single artifact file.
func Load(path string) (*ContractArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var artifact ContractArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if artifact.ContractName == "" {
		artifact.ContractName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &artifact, nil
}

// LoadNamed reads <dir>/<name>.json.
func LoadNamed(dir, name string) (*ContractArtifact, error) {
	return Load(filepath.Join(dir, name+".json"))
}

// LoadSet loads several named artifacts from one build directory and reports every
// missing contract at once.
func LoadSet(dir string, names ...string) (map[string]*ContractArtifact, error) {
	loaded := make(map[string]*ContractArtifact, len(names))
	var missing []string
	for _, name := range names {
		artifact, err := LoadNamed(dir, name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				missing = append(missing, name)
				continue
			}
			return nil, err
		}
		loaded[name] = artifact
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required contracts in %s: %v", dir, missing)
	}
	return loaded, nil
}

// EmbeddedABI returns one of the ABIs shipped with the binary: ERC20, TestToken or Migrations.
func EmbeddedABI(name string) (abi.ABI, error) {
	data, err := abiFS.ReadFile("abi/" + name + ".json")
	if err != nil {
		return abi.ABI{}, fmt.Errorf("no embedded ABI for %q", name)
	}
	return abi.JSON(bytes.NewReader(data))
}

// MustEmbeddedABI is EmbeddedABI for names known at compile time.
func MustEmbeddedABI(name string) abi.ABI {
	parsed, err := EmbeddedABI(name)
	if err != nil {
		panic(err)
	}
	return parsed
}

// EmbeddedArtifact builds an artifact from an embedded ABI and caller-supplied bytecode.
func EmbeddedArtifact(name, bytecode string) (*ContractArtifact, error) {
	data, err := abiFS.ReadFile("abi/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("no embedded ABI for %q", name)
	}
	return &ContractArtifact{
		ContractName: name,
		ABI:          json.RawMessage(data),
		Bytecode:     NewBytecode(bytecode),
	}, nil
}
