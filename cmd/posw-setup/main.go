// Copyright 2025 Certen Protocol
//
// posw-setup generates the proof-of-succinct-work circuit keys and writes
// them to the parameter directory consumed by the node.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/certen/zkpow-node/pkg/crypto/posw"
)

func main() {
	outDir := flag.String("out", "./data/params", "output directory for circuit parameters")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create %s: %v", *outDir, err)
	}

	fmt.Println("compiling work circuit and running Groth16 setup (this can take a while)...")
	prover := posw.NewProver()
	if err := prover.Setup(); err != nil {
		log.Fatalf("setup failed: %v", err)
	}

	csPath := filepath.Join(*outDir, "posw.r1cs")
	pkPath := filepath.Join(*outDir, "posw.pk")
	vkPath := filepath.Join(*outDir, "posw.vk")
	if err := prover.SaveKeys(csPath, pkPath, vkPath); err != nil {
		log.Fatalf("failed to write parameters: %v", err)
	}

	fmt.Printf("wrote %s, %s, %s\n", csPath, pkPath, vkPath)
}
