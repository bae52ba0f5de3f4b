// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blinklabs-io/slotforge/internal/config"
	"github.com/blinklabs-io/slotforge/keystore"
	"github.com/spf13/cobra"
)

func keygenCommand() *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a VRF authority key file",
		Long: `Generate a VRF authority key file and print its public key.

The file is written to --out, or to a new file in the configured key
directory. Add the printed key to the genesis authority list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := outFile
			if path == "" {
				cfg := config.FromContext(cmd.Context())
				if cfg == nil || cfg.KeyDir == "" {
					return fmt.Errorf("either --out or a key directory must be configured")
				}
				if err := os.MkdirAll(cfg.KeyDir, 0o700); err != nil {
					return fmt.Errorf("failed to create key directory: %w", err)
				}
				n := 0
				for {
					path = filepath.Join(
						cfg.KeyDir,
						fmt.Sprintf("authority-%d%s", n, keystore.KeyFileExtension),
					)
					if _, err := os.Stat(path); os.IsNotExist(err) {
						break
					}
					n++
				}
			}
			id, err := keystore.GenerateKeyFile(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key file: %s\npublic key: %s\n", path, id.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "path of the key file to create")
	return cmd
}
