// trustanchor-keygen prints fresh key material for a trustanchor
// deployment: a commitment master key and an agent signing keypair.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/emohunter/trustanchor/pkg/crypto"
)

func main() {
	masterKey := make([]byte, crypto.MasterKeyLen)
	if _, err := rand.Read(masterKey); err != nil {
		log.Fatalf("generate master key: %v", err)
	}

	signer, err := crypto.NewSigner()
	if err != nil {
		log.Fatalf("generate agent keypair: %v", err)
	}

	fmt.Println("# Export these before starting trustanchord. Store them in a")
	fmt.Println("# secret manager; the master key cannot be rotated without")
	fmt.Println("# invalidating every existing commitment.")
	fmt.Printf("export MASTER_KEY=%s\n", base64.StdEncoding.EncodeToString(masterKey))
	fmt.Printf("export AGENT_SK=%s\n", signer.SeedBase64())
	fmt.Printf("# agent public key (share with verifiers): %s\n", signer.PublicKeyBase64())
}
