package evm

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc6492MagicSuffix is the fixed 32-byte suffix ERC-6492 appends to a
// wrapped signature so a verifier can detect the wrapping before attempting
// ordinary ECDSA/EIP-1271 recovery.
var erc6492MagicSuffix = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")

// SignatureData is the parsed form of an ERC-6492 wrapped signature:
// abi.encode(factory, factoryCalldata, innerSignature) || magicSuffix. A
// zero Factory means the signature was not ERC-6492 wrapped.
type SignatureData struct {
	Factory         common.Address
	FactoryCalldata []byte
	InnerSignature  []byte
}

var erc6492ArgTypes = func() abi.Arguments {
	addrType, _ := abi.NewType("address", "", nil)
	bytesType, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{
		{Type: addrType},
		{Type: bytesType},
		{Type: bytesType},
	}
}()

// ParseSignature unwraps an ERC-6492 signature if present. If the input
// does not end in the magic suffix, it is returned unchanged as
// InnerSignature with a zero Factory (the ordinary, non-wrapped case).
func ParseSignature(signature []byte) (SignatureData, error) {
	if len(signature) < len(erc6492MagicSuffix) || !bytes.Equal(signature[len(signature)-len(erc6492MagicSuffix):], erc6492MagicSuffix) {
		return SignatureData{InnerSignature: signature}, nil
	}

	encoded := signature[:len(signature)-len(erc6492MagicSuffix)]
	values, err := erc6492ArgTypes.Unpack(encoded)
	if err != nil {
		return SignatureData{}, fmt.Errorf("evm: unpack erc6492 wrapper: %w", err)
	}
	if len(values) != 3 {
		return SignatureData{}, fmt.Errorf("evm: erc6492 wrapper decoded %d values, want 3", len(values))
	}

	factory, ok := values[0].(common.Address)
	if !ok {
		return SignatureData{}, fmt.Errorf("evm: erc6492 wrapper factory field has unexpected type")
	}
	factoryCalldata, ok := values[1].([]byte)
	if !ok {
		return SignatureData{}, fmt.Errorf("evm: erc6492 wrapper calldata field has unexpected type")
	}
	innerSig, ok := values[2].([]byte)
	if !ok {
		return SignatureData{}, fmt.Errorf("evm: erc6492 wrapper inner signature field has unexpected type")
	}

	return SignatureData{
		Factory:         factory,
		FactoryCalldata: factoryCalldata,
		InnerSignature:  innerSig,
	}, nil
}

// IsWrapped reports whether the signature carried a nonzero factory,
// meaning the signing wallet was (at signing time) an undeployed
// counterfactual smart-contract account.
func (d SignatureData) IsWrapped() bool {
	return d.Factory != (common.Address{}) && len(d.FactoryCalldata) > 0
}
