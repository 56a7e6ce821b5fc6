package proof

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash"
	"github.com/consensys/gnark/std/permutation/poseidon2"
)

// PreimageCircuit proves knowledge of a secret whose Poseidon2 hash
// equals a public digest, without revealing the secret. Every context
// component (device, time, location, pattern) reduces to this same
// shape: a private value the principal holds, and a public commitment
// the verifier already trusts.
type PreimageCircuit struct {
	Digest frontend.Variable `gnark:"digest,public"`
	Secret frontend.Variable `gnark:"secret"`
}

func (c *PreimageCircuit) Define(api frontend.API) error {
	p, err := poseidon2.NewPoseidon2FromParameters(api, 2, 6, 50)
	if err != nil {
		return err
	}

	api.AssertIsDifferent(c.Secret, 0)

	hasher := hash.NewMerkleDamgardHasher(api, p, 0)
	hasher.Write(c.Secret)
	derived := hasher.Sum()

	api.AssertIsEqual(c.Digest, derived)
	return nil
}

// GnarkBackend is a real Groth16/BN254 Backend serving one generic
// knowledge-of-preimage circuit. It performs its own single-party
// "dev" trusted setup at construction time; production deployments
// would instead load a ceremony-derived proving/verifying key pair,
// the same way the circuit this was modeled on does.
type GnarkBackend struct {
	circuitID string
	version   string
	ccs       constraint.ConstraintSystem
	pk        groth16.ProvingKey
	vk        groth16.VerifyingKey
}

// NewGnarkBackend compiles PreimageCircuit and runs a dev Groth16 setup
// for circuitID.
func NewGnarkBackend(circuitID, version string) (*GnarkBackend, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &PreimageCircuit{})
	if err != nil {
		return nil, fmt.Errorf("proof: compile gnark circuit: %w", err)
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("proof: groth16 dev setup: %w", err)
	}

	return &GnarkBackend{circuitID: circuitID, version: version, ccs: ccs, pk: pk, vk: vk}, nil
}

func (b *GnarkBackend) Name() string { return "gnark-groth16-bn254" }

func (b *GnarkBackend) DeclaredCircuits() []CircuitDeclaration {
	return []CircuitDeclaration{{CircuitID: b.circuitID, VersionConstraint: ">= " + b.version}}
}

func (b *GnarkBackend) Generate(ctx context.Context, circuitID string, privateInputs, publicInputs map[string]any) (*Artifact, error) {
	if circuitID != b.circuitID {
		return nil, fmt.Errorf("%w: backend only serves %s", ErrUnknownCircuit, b.circuitID)
	}

	secret, err := toBigInt(privateInputs["secret"])
	if err != nil {
		return nil, fmt.Errorf("%w: private input \"secret\": %v", ErrBadInputs, err)
	}
	digest, err := toBigInt(publicInputs["digest"])
	if err != nil {
		return nil, fmt.Errorf("%w: public input \"digest\": %v", ErrBadInputs, err)
	}

	assignment := PreimageCircuit{Digest: digest, Secret: secret}
	witness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: build witness: %v", ErrBadInputs, err)
	}

	proof, err := groth16.Prove(b.ccs, b.pk, witness)
	if err != nil {
		return nil, fmt.Errorf("proof: groth16 prove: %w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof: serialize proof: %w", err)
	}

	return &Artifact{
		CircuitID:          circuitID,
		ProofBytes:         buf.Bytes(),
		PublicInputsDigest: fmt.Sprintf("%x", digest),
	}, nil
}

func (b *GnarkBackend) Verify(ctx context.Context, circuitID string, artifact *Artifact, publicInputs map[string]any) (bool, error) {
	if circuitID != b.circuitID {
		return false, fmt.Errorf("%w: backend only serves %s", ErrUnknownCircuit, b.circuitID)
	}

	digest, err := toBigInt(publicInputs["digest"])
	if err != nil {
		return false, fmt.Errorf("%w: public input \"digest\": %v", ErrBadInputs, err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(artifact.ProofBytes)); err != nil {
		return false, fmt.Errorf("%w: deserialize proof: %v", ErrBadInputs, err)
	}

	publicAssignment := PreimageCircuit{Digest: digest}
	publicWitness, err := frontend.NewWitness(&publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("%w: build public witness: %v", ErrBadInputs, err)
	}

	if err := groth16.Verify(proof, b.vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

func toBigInt(v any) (*big.Int, error) {
	switch t := v.(type) {
	case *big.Int:
		return t, nil
	case int:
		return big.NewInt(int64(t)), nil
	case int64:
		return big.NewInt(t), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	case string:
		n, ok := new(big.Int).SetString(t, 0)
		if !ok {
			return nil, fmt.Errorf("not a valid integer literal: %q", t)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported input type %T", v)
	}
}
