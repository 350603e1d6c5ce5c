// cmd/certtool is a standalone certificate-issuance utility, built
// against the same internal/identity and internal/wire packages the
// connection core uses to parse and verify these certificates, so the
// wire format has one authoritative producer to test the core's
// verifier against. It does not participate in the connection core
// itself.
//
// Flag parsing and subcommand dispatch follow a flag.NewFlagSet-per-
// subcommand style, with a die() helper that prints to stderr and
// exits non-zero.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sdconn/internal/identity"
	"sdconn/internal/wire"
)

func die(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func dieMsg(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: certtool <gen_keypair|create_cert>")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "gen_keypair":
		cmdGenKeypair(os.Args[2:])
	case "create_cert":
		cmdCreateCert(os.Args[2:])
	default:
		dieMsg("unknown command " + os.Args[1] + ", want gen_keypair or create_cert")
	}
}

func cmdGenKeypair(args []string) {
	fs := flag.NewFlagSet("gen_keypair", flag.ExitOnError)
	pubKeyFile := fs.String("pub-key-file", "", "write the public key (hex) to this file")
	privKeyFile := fs.String("priv-key-file", "", "write the private key (hex) to this file")
	outputJSON := fs.Bool("output-json", false, "print {pub_key, priv_key} as JSON instead of text")
	_ = fs.Parse(args)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		die("generate keypair failed", err)
	}

	if *pubKeyFile != "" {
		if err := os.WriteFile(*pubKeyFile, []byte(hex.EncodeToString(pub)), 0644); err != nil {
			die("write pub key file failed", err)
		}
	}
	if *privKeyFile != "" {
		if err := os.WriteFile(*privKeyFile, []byte(hex.EncodeToString(priv)), 0600); err != nil {
			die("write priv key file failed", err)
		}
	}

	if *outputJSON {
		out, _ := json.MarshalIndent(map[string]string{
			"pub_key":  hex.EncodeToString(pub),
			"priv_key": hex.EncodeToString(priv),
		}, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Println("pub:", hex.EncodeToString(pub))
	fmt.Println("priv:", hex.EncodeToString(priv))
}

func cmdCreateCert(args []string) {
	fs := flag.NewFlagSet("create_cert", flag.ExitOnError)
	caPrivKeyFile := fs.String("ca-priv-key-file", "", "path to the CA's Ed25519 private key (hex)")
	pubKey := fs.String("pub-key", "", "subject public key, hex-encoded")
	pubKeyFile := fs.String("pub-key-file", "", "path to a file containing the subject public key (hex)")
	pop := fs.String("pop", "", "comma-separated 3-4 char POP codes; a non-empty list binds the cert to an anonymous gameserver identity")
	app := fs.String("app", "", "comma-separated AppIDs; the first is bound into the certificate")
	expiryDays := fs.Int("expiry", 730, "certificate lifetime in days")
	outputJSON := fs.Bool("output-json", false, "print the signed certificate as JSON instead of PEM")
	_ = fs.Parse(args)

	if *caPrivKeyFile == "" {
		dieMsg("--ca-priv-key-file is required")
	}
	caPriv, err := loadHexKeyFile(*caPrivKeyFile, ed25519.PrivateKeySize)
	if err != nil {
		die("load CA private key failed", err)
	}

	subjectPub, err := resolveSubjectPubKey(*pubKey, *pubKeyFile)
	if err != nil {
		die("resolve subject public key failed", err)
	}

	datacenterIDs, err := parsePOPCodes(*pop)
	if err != nil {
		die("invalid --pop", err)
	}

	appIDs, err := parseAppIDs(*app)
	if err != nil {
		die("invalid --app", err)
	}

	if *expiryDays <= 0 {
		dieMsg("--expiry must be a positive number of days")
	}

	cert := identity.Certificate{
		KeyType:                 identity.KeyTypeED25519,
		GameserverDatacenterIDs: datacenterIDs,
		HasTimeCreated:          true,
		TimeCreated:             uint32(time.Now().Unix()),
		HasTimeExpiry:           true,
		TimeExpiry:              uint32(time.Now().Add(time.Duration(*expiryDays) * 24 * time.Hour).Unix()),
	}
	copy(cert.KeyData[:], subjectPub)

	if len(datacenterIDs) > 0 {
		// A cert with a non-empty datacenter list binds only to an
		// anonymous-gameserver identity.
		cert.Identity = identity.AnonGameserver(0)
	} else if len(appIDs) == 0 {
		dieMsg("--app is required unless --pop is given (binding rule: non-datacenter certs must bind an AppID)")
	}
	if len(appIDs) > 0 {
		cert.HasAppID = true
		cert.AppID = appIDs[0]
	}

	rawCert, err := identity.EncodeCertificate(cert)
	if err != nil {
		die("encode certificate failed", err)
	}

	caKeyID := caKeyIDFromPub(caPriv.Public().(ed25519.PublicKey))
	signed := identity.SignedCertificate{
		Cert:           rawCert,
		HasCAKeyID:     true,
		CAKeyID:        caKeyID,
		HasCASignature: true,
	}
	copy(signed.CASignature[:], ed25519.Sign(caPriv, rawCert))

	if *outputJSON {
		out, _ := json.MarshalIndent(map[string]any{
			"cert_hex":      hex.EncodeToString(signed.Cert),
			"ca_key_id":     signed.CAKeyID,
			"ca_signature":  hex.EncodeToString(signed.CASignature[:]),
			"app_id":        cert.AppID,
			"datacenter_ids": cert.GameserverDatacenterIDs,
			"time_expiry":   cert.TimeExpiry,
		}, "", "  ")
		fmt.Println(string(out))
		return
	}
	os.Stdout.Write(wire.EncodeCertPEM(signed))
}

func loadHexKeyFile(path string, wantLen int) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("not valid hex: %w", err)
	}
	if len(key) != wantLen {
		return nil, fmt.Errorf("want %d bytes, got %d", wantLen, len(key))
	}
	return ed25519.PrivateKey(key), nil
}

func resolveSubjectPubKey(inlineHex, filePath string) ([]byte, error) {
	if inlineHex == "" && filePath == "" {
		return nil, fmt.Errorf("one of --pub-key or --pub-key-file is required")
	}
	if inlineHex != "" && filePath != "" {
		return nil, fmt.Errorf("--pub-key and --pub-key-file are mutually exclusive")
	}
	var raw string
	if inlineHex != "" {
		raw = inlineHex
	} else {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		raw = strings.TrimSpace(string(data))
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("not valid hex: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("want %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	return key, nil
}

// parsePOPCodes parses a comma-separated --pop CODE[,CODE] flag: each
// code is 3-4 ASCII characters, packed big-endian into a uint32 (left
// padded with a zero byte for 3-char codes), matching the way short
// location codes are conventionally packed into a fixed-width integer
// for on-the-wire datacenter IDs.
func parsePOPCodes(raw string) ([]uint32, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []uint32
	for _, code := range strings.Split(raw, ",") {
		code = strings.TrimSpace(code)
		if len(code) < 3 || len(code) > 4 {
			return nil, fmt.Errorf("POP code %q must be 3-4 characters", code)
		}
		var v uint32
		for _, c := range []byte(code) {
			v = v<<8 | uint32(c)
		}
		ids = append(ids, v)
	}
	return ids, nil
}

func parseAppIDs(raw string) ([]uint32, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []uint32
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid AppID %q: %w", s, err)
		}
		ids = append(ids, uint32(v))
	}
	return ids, nil
}

// caKeyIDFromPub derives a stable ca_key_id from the CA public key so
// SignedCertificate.CAKeyID always matches the key that actually
// produced the signature, without requiring the operator to track IDs
// by hand.
func caKeyIDFromPub(pub ed25519.PublicKey) uint64 {
	var id uint64
	for i := 0; i < 8 && i < len(pub); i++ {
		id = id<<8 | uint64(pub[i])
	}
	return id
}
