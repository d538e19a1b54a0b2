package abi

import (
	"regexp"
	"strings"
	"sync"

	"go.bytecodealliance.org/wit"

	"github.com/embercore/hotscript/errors"
)

// CoreType is a core-wasm value type, the flattened form a WIT scalar takes
// at the call boundary.
type CoreType byte

const (
	CoreI32 CoreType = iota
	CoreI64
	CoreF32
	CoreF64
)

func (t CoreType) String() string {
	switch t {
	case CoreI32:
		return "i32"
	case CoreI64:
		return "i64"
	case CoreF32:
		return "f32"
	case CoreF64:
		return "f64"
	}
	return "invalid"
}

// Signature is the flattened core form of one contract function.
type Signature struct {
	Name    string
	Params  []CoreType
	Results []CoreType
}

var (
	contractOnce sync.Once
	contractSigs map[string]*Signature
	contractErr  error
)

// ContractSignature returns the expected core signature for a contract
// export. Parses ContractWIT lazily on first call.
func ContractSignature(name string) (*Signature, error) {
	contractOnce.Do(func() {
		contractSigs, contractErr = parseContract(ContractWIT)
	})
	if contractErr != nil {
		return nil, contractErr
	}
	sig, ok := contractSigs[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "contract function", name)
	}
	return sig, nil
}

// Matches reports whether a resolved export's core types satisfy the
// signature.
func (s *Signature) Matches(params, results []CoreType) bool {
	if len(params) != len(s.Params) || len(results) != len(s.Results) {
		return false
	}
	for i, p := range s.Params {
		if params[i] != p {
			return false
		}
	}
	for i, r := range s.Results {
		if results[i] != r {
			return false
		}
	}
	return true
}

func (s *Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteString(": func(")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	if len(s.Results) > 0 {
		b.WriteString(" -> ")
		for i, r := range s.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.String())
		}
	}
	return b.String()
}

// parseContract extracts flattened signatures from WIT text.
// Pattern: name: func(params) -> result;
func parseContract(witText string) (map[string]*Signature, error) {
	sigs := make(map[string]*Signature)

	funcPattern := regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		name := match[1]
		paramsStr := strings.TrimSpace(match[2])
		resultStr := ""
		if len(match) > 3 {
			resultStr = strings.TrimSpace(match[3])
		}

		sig := &Signature{Name: name}

		if paramsStr != "" {
			for _, p := range strings.Split(paramsStr, ",") {
				typStr := strings.TrimSpace(p)
				if idx := strings.LastIndex(typStr, ":"); idx != -1 {
					typStr = strings.TrimSpace(typStr[idx+1:])
				}
				ct, err := flattenWitType(typStr)
				if err != nil {
					return nil, err
				}
				sig.Params = append(sig.Params, ct)
			}
		}

		if resultStr != "" {
			ct, err := flattenWitType(resultStr)
			if err != nil {
				return nil, err
			}
			sig.Results = []CoreType{ct}
		}

		sigs[name] = sig
	}

	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "no functions found in contract WIT text")
	}

	return sigs, nil
}

// flattenWitType maps a WIT scalar to its core-wasm representation. The
// contract only admits scalars; compound data crosses as (ptr, len).
func flattenWitType(s string) (CoreType, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "parse contract type "+s)
	}

	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return CoreI32, nil
	case wit.U64, wit.S64:
		return CoreI64, nil
	case wit.F32:
		return CoreF32, nil
	case wit.F64:
		return CoreF64, nil
	default:
		return 0, errors.InvalidInput(errors.PhaseLoad, "contract type must be scalar: "+s)
	}
}
