// Copyright 2022 Piprate Limited
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
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/imagevault/imagevault/api"
	"github.com/imagevault/imagevault/utils"
	"github.com/imagevault/imagevault/vault"
)

const Version = "1.0.0"

func main() {
	app := cli.NewApp()
	app.Name = "imagevaultd"
	app.Usage = "ImageVault Server"
	app.Version = Version

	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "if true, enable debug mode and verbose logging",
		},
	}
	app.Action = RunServer

	if err := app.Run(os.Args); err != nil {
		println(err.Error())
		os.Exit(1)
	}
}

// cfg is populated entirely from unprefixed environment variables: HOST,
// PORT, VAULT_DIR and CORS_ORIGINS.
var cfg = koanf.New(".")

func RunServer(c *cli.Context) error {
	debug := c.Bool("debug")
	api.SetupLogging(!debug)

	if err := cfg.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return cli.Exit(err, 1)
	}

	host := cfg.String("host")
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.String("port")
	if port == "" {
		port = "3000"
	}
	vaultDir := cfg.String("vault_dir")
	if vaultDir == "" {
		vaultDir = "./data"
	}
	var allowedOrigins []string
	if raw := cfg.String("cors_origins"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}

	v, err := vault.Open(
		filepath.Join(vaultDir, "db", "vault.bolt"),
		filepath.Join(vaultDir, "storage"),
		filepath.Join(vaultDir, ".salt"),
	)
	if err != nil {
		return cli.Exit(err, 1)
	}

	srv := api.NewServer(v, allowedOrigins)

	httpServer := &http.Server{
		Addr:              host + ":" + port,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: api.DefaultReadHeaderTimeout,
	}

	// Closers run in registration order: stop accepting requests, then
	// flush-and-lock the vault, then release the database handle.
	warden := utils.NewGracefulWarden(10)
	warden.CloseOnShutdown(closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	}))
	warden.CloseOnShutdown(closerFunc(func() error {
		if err := v.Shutdown(); err != nil {
			return err
		}
		return v.Close()
	}))

	log.Info().Str("addr", httpServer.Addr).Str("vault_dir", vaultDir).Msg("starting imagevaultd")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return cli.Exit(err, 1)
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
