// Package signature checks the detached signature that ships in every
// extension package.
//
// The envelope is a two-line text file: the hex-encoded signature over the
// inner bundle, then the base64 body of a PKIX public key without PEM armor.
package signature

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/any-listen/any-listen-extension-store/core/extension"
)

const (
	keyHeader = "-----BEGIN PUBLIC KEY-----\n"
	keyFooter = "\n-----END PUBLIC KEY-----"
)

// Envelope is the parsed content of a package's sig file.
type Envelope struct {
	Signature string
	PublicKey string
}

// ParseEnvelope splits a sig file into its signature and key body lines.
func ParseEnvelope(data []byte) (Envelope, error) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return Envelope{}, extension.Errorf(extension.ErrSignature, "signature file must hold two lines")
	}
	env := Envelope{
		Signature: strings.TrimSpace(lines[0]),
		PublicKey: strings.TrimSpace(lines[1]),
	}
	if env.Signature == "" || env.PublicKey == "" {
		return Envelope{}, extension.Errorf(extension.ErrSignature, "signature file has an empty line")
	}
	return env, nil
}

// EncodeEnvelope renders env in the sig file layout.
func EncodeEnvelope(env Envelope) []byte {
	return []byte(env.Signature + "\n" + env.PublicKey)
}

// Verify checks env.Signature over payload with the key carried in env.
func Verify(payload []byte, env Envelope) error {
	pub, err := parseKey(env.PublicKey)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return extension.Wrap(extension.ErrSignature, "decode signature", err)
	}
	digest := sha256.Sum256(payload)
	switch key := pub.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig); err != nil {
			return extension.Wrap(extension.ErrSignature, "verify", err)
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest[:], sig) {
			return extension.Errorf(extension.ErrSignature, "ecdsa signature mismatch")
		}
	default:
		return extension.Errorf(extension.ErrSignature, "unsupported key type %T", pub)
	}
	return nil
}

// VerifyExpected verifies like Verify and additionally requires the embedded
// key body to equal expectedKey exactly. An empty expectedKey disables the
// comparison.
func VerifyExpected(payload []byte, env Envelope, expectedKey string) error {
	if err := Verify(payload, env); err != nil {
		return err
	}
	if expectedKey != "" && env.PublicKey != expectedKey {
		return extension.Errorf(extension.ErrSignature, "public key mismatch")
	}
	return nil
}

// Sign produces an envelope for payload using an RSA or ECDSA private key.
func Sign(payload []byte, priv crypto.Signer) (Envelope, error) {
	body, err := EncodePublicKey(priv.Public())
	if err != nil {
		return Envelope{}, err
	}
	digest := sha256.Sum256(payload)
	var sig []byte
	switch key := priv.(type) {
	case *rsa.PrivateKey:
		sig, err = rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	case *ecdsa.PrivateKey:
		sig, err = ecdsa.SignASN1(rand.Reader, key, digest[:])
	default:
		return Envelope{}, fmt.Errorf("unsupported signing key %T", priv)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("sign: %w", err)
	}
	return Envelope{Signature: hex.EncodeToString(sig), PublicKey: body}, nil
}

// EncodePublicKey returns the unarmored single-line base64 PKIX body of pub.
func EncodePublicKey(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ParsePrivateKey reads a PEM encoded PKCS#8, PKCS#1 or SEC1 private key.
func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(bytes.TrimSpace(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key %T", key)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func parseKey(body string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(keyHeader + body + keyFooter))
	if block == nil {
		return nil, extension.Errorf(extension.ErrSignature, "public key is not valid base64")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, extension.Wrap(extension.ErrSignature, "parse public key", err)
	}
	return pub, nil
}
