package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/loykin/stackctl"
)

// This example loads a TOML config file and runs one stop pass using the
// public stackctl facade, then prints the resulting report.
func main() {
	cfgPath := filepath.Join("example", "embedded_controller", "stackctl.toml")
	cfg, err := stackctl.LoadConfig(cfgPath)
	if err != nil {
		panic(err)
	}
	ctrl := stackctl.New(cfg)
	defer ctrl.Close()

	snap, err := ctrl.Status()
	if err != nil {
		panic(err)
	}
	b, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(b))

	rep, err := ctrl.StopAll(context.Background())
	if err != nil {
		panic(err)
	}
	b, _ = json.MarshalIndent(rep, "", "  ")
	fmt.Println(string(b))
}
