// Ops Keygen CLI
// Generates an Ed25519 signing seed for the ledger service and prints the
// matching public key for verifier distribution.

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

func main() {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OPS_ED25519_PRIVATE_KEY_B64=%s\n", base64.StdEncoding.EncodeToString(priv.Seed()))
	fmt.Printf("# public key (share with verifiers): %s\n", base64.StdEncoding.EncodeToString(pub))
}
