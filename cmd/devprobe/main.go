// devprobe reports which compute device the ONNX runtime will use on this
// machine. Useful when deciding whether to pin device: cpu in config.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/clipscribe/clipscribe/internal/transcribe"
)

func main() {
	flag.Parse()

	if path := os.Getenv(transcribe.ONNXRuntimeEnv); path != "" {
		log.Printf("Using onnxruntime library from %s=%s", transcribe.ONNXRuntimeEnv, path)
	}

	if err := transcribe.EnsureRuntime(); err != nil {
		log.Fatalf("onnxruntime unavailable: %v", err)
	}

	if transcribe.ProbeAccelerated() {
		fmt.Println("device: accelerated")
	} else {
		fmt.Println("device: cpu")
	}
}
