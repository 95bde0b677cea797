package framework

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

var (
	errArtifactNotFound  = errors.New("artifact not found")
	errAmbiguousArtifact = errors.New("multiple artifacts match contract name")
	errEmptyBytecode     = errors.New("artifact has no creation bytecode")
	errUnlinkedBytecode  = errors.New("artifact bytecode has unlinked libraries")
)

// Artifact is the compiled form of a contract as written by forge or hardhat.
type Artifact struct {
	Name   string
	Source string
	Path   string
	Abi    *abi.ABI
	Code   []byte
}

// artifactFile covers both the foundry layout, where bytecode is an object
// with the hex in "object", and the hardhat layout, where it is a plain string.
type artifactFile struct {
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	Abi          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// ReadArtifact decodes the artifact stored at path.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read artifact %s", path)
	}

	var file artifactFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "decode artifact %s", path)
	}

	contractAbi, err := abi.JSON(strings.NewReader(string(file.Abi)))
	if err != nil {
		return nil, errors.Wrapf(err, "decode abi of %s", path)
	}

	code, err := decodeBytecode(file.Bytecode)
	if err != nil {
		return nil, errors.Wrapf(err, "artifact %s", path)
	}

	name := file.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	source := file.SourceName
	if source == "" {
		source = filepath.Base(filepath.Dir(path))
	}

	return &Artifact{
		Name:   name,
		Source: source,
		Path:   path,
		Abi:    &contractAbi,
		Code:   code,
	}, nil
}

func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	var hexCode string
	if err := json.Unmarshal(raw, &hexCode); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, errors.Wrap(err, "decode bytecode")
		}
		hexCode = obj.Object
	}

	if strings.Contains(hexCode, "__") {
		return nil, errUnlinkedBytecode
	}
	if !strings.HasPrefix(hexCode, "0x") {
		hexCode = "0x" + hexCode
	}
	if hexCode == "0x" {
		return nil, errEmptyBytecode
	}

	code, err := hexutil.Decode(hexCode)
	if err != nil {
		return nil, errors.Wrap(err, "decode bytecode")
	}
	return code, nil
}

// ArtifactStore resolves contract names to artifacts below a build output
// directory (forge "out" or hardhat "artifacts").
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Find returns the artifact for name. The name is either a bare contract name
// ("Exchange") or qualified with its source file ("Exchange.sol:Exchange").
func (s *ArtifactStore) Find(name string) (*Artifact, error) {
	source, contract := splitQualifiedName(name)
	if contract == "" {
		return nil, errors.Wrapf(errArtifactNotFound, "empty contract name %q", name)
	}

	var matches []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != contract+".json" {
			return nil
		}
		if source != "" && filepath.Base(filepath.Dir(path)) != filepath.Base(source) {
			return nil
		}
		matches = append(matches, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan artifacts in %s", s.dir)
	}

	switch len(matches) {
	case 0:
		return nil, errors.Wrapf(errArtifactNotFound, "%s in %s", name, s.dir)
	case 1:
		return ReadArtifact(matches[0])
	default:
		sort.Strings(matches)
		return nil, errors.Wrapf(errAmbiguousArtifact, "%s: %s", name, strings.Join(matches, ", "))
	}
}

func splitQualifiedName(name string) (source, contract string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
