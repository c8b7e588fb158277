package primitive

import (
	"crypto/ecdh"

	"github.com/sara-star-quant/hybrid-kex/pkg/crypto"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// ecdhAgreement adapts a crypto/ecdh curve. Public keys use the curve's
// native encoding: 32 bytes for X25519, uncompressed points for NIST curves.
type ecdhAgreement struct {
	id    AlgorithmID
	curve ecdh.Curve
	sizes KeySizes
}

// NewX25519 returns the X25519 key agreement (RFC 7748).
func NewX25519() KeyAgreement {
	return &ecdhAgreement{id: X25519, curve: ecdh.X25519(), sizes: KeySizes{Public: 32, Private: 32, SharedSecret: 32}}
}

// NewECDHP256 returns ECDH over NIST P-256.
func NewECDHP256() KeyAgreement {
	return &ecdhAgreement{id: ECDHP256, curve: ecdh.P256(), sizes: KeySizes{Public: 65, Private: 32, SharedSecret: 32}}
}

// NewECDHP384 returns ECDH over NIST P-384.
func NewECDHP384() KeyAgreement {
	return &ecdhAgreement{id: ECDHP384, curve: ecdh.P384(), sizes: KeySizes{Public: 97, Private: 48, SharedSecret: 48}}
}

func (e *ecdhAgreement) ID() AlgorithmID { return e.id }
func (e *ecdhAgreement) Class() Class    { return Classical }
func (e *ecdhAgreement) Sizes() KeySizes { return e.sizes }

func (e *ecdhAgreement) GenerateKeyPair() (*KeyMaterial, error) {
	priv, err := e.curve.GenerateKey(crypto.Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError(string(e.id)+".GenerateKeyPair", qerrors.ErrKeyGenerationFailed)
	}
	pub := priv.PublicKey().Bytes()
	return &KeyMaterial{
		PublicKey:  pub,
		PrivateKey: priv.Bytes(),
		Algorithm:  e.id,
		Size:       len(pub),
	}, nil
}

func (e *ecdhAgreement) DeriveSharedSecret(privateKey, peerPublic []byte) ([]byte, error) {
	if err := checkSize(e.id, "public key", len(peerPublic), e.sizes.Public, qerrors.ErrInvalidPublicKeySize); err != nil {
		return nil, err
	}
	if err := checkSize(e.id, "private key", len(privateKey), e.sizes.Private, qerrors.ErrInvalidPrivateKeySize); err != nil {
		return nil, err
	}

	priv, err := e.curve.NewPrivateKey(privateKey)
	if err != nil {
		return nil, qerrors.NewCryptoError(string(e.id), qerrors.ErrInvalidPrivateKeySize)
	}
	pub, err := e.curve.NewPublicKey(peerPublic)
	if err != nil {
		return nil, qerrors.NewCryptoError(string(e.id), qerrors.ErrKeyAgreementFailed)
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, qerrors.NewCryptoError(string(e.id), qerrors.ErrKeyAgreementFailed)
	}
	return secret, nil
}
